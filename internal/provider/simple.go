package provider

import (
	"context"
	"io"

	"github.com/cloudwego/eino/schema"
)

// SimpleComplete issues a single, non-tool completion call against p
// and returns the concatenated text of the response. It is the cheap,
// one-shot invocation the Context Compressor and Reflector
// need for their CompressFunc/ReflectFunc callbacks: the same
// CreateCompletion/Recv loop EventAdapter drives for a full task, with
// the tool-call and streaming-event machinery stripped since neither
// caller needs them.
func SimpleComplete(ctx context.Context, p Provider, modelID, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	stream, err := p.CreateCompletion(ctx, &CompletionRequest{
		Model:     modelID,
		Messages:  []*schema.Message{{Role: schema.User, Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var text string
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return text, nil
		}
		if err != nil {
			return "", err
		}
		text += msg.Content
	}
}
