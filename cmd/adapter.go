package cmd

import (
	"context"

	"github.com/campuskit/sage/pkg/controllers"
	"github.com/campuskit/sage/pkg/stream"
)

// clientStreamer adapts stream.Client to the controller's Streamer
// interface. The indirection keeps a failed open from handing the
// controller a typed nil.
type clientStreamer struct {
	client *stream.Client
}

func (a *clientStreamer) StreamQuestion(ctx context.Context, question string, h stream.Handlers) (controllers.Aborter, error) {
	s, err := a.client.StreamQuestion(ctx, question, h)
	if err != nil {
		return nil, err
	}
	return s, nil
}
