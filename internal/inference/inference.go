// Package inference talks to the pretrained vision and speech models.
package inference

import "context"

// Vision exposes the image models used for camera scoring.
type Vision interface {
	// Detect returns the object detector's class labels.
	Detect(ctx context.Context, image []byte) ([]string, error)
	// Caption returns a generated description of the image.
	Caption(ctx context.Context, image []byte) (string, error)
	// Match returns one image-text logit per prompt, in prompt order.
	Match(ctx context.Context, image []byte, prompts []string) ([]float64, error)
}

// Speech exposes the speech-to-text model.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
