package s3util

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=rdannotator"

// ProjectTagging returns a pointer to the URL-encoded S3 object tagging string.
// Use as the Tagging field on PutObjectInput.
func ProjectTagging() *string {
	t := projectTag
	return &t
}
