package main

// Error codes returned in the JSON error body.
const (
	CodeMissingImage    = "missing_image"
	CodeInvalidImage    = "invalid_image"
	CodeInferenceFailed = "inference_failed"
	CodeBatchTooLarge   = "batch_too_large"
	CodeInternal        = "internal_error"
)

const (
	MsgMissingImage = "No image provided. Send a multipart file named image, a JSON body with image_base64, or raw pixels with width and height query parameters."

	MsgInferenceFailed = "Person detection failed while running the model. Please retry the request."

	MsgInternal = "The server hit an unexpected error while handling the request."

	MsgBatchTooLarge = "Too many images in one batch request."
)
