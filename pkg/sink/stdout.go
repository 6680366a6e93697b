package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/exactly/exa-indexer/pkg/changeset"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// StdoutSink writes each changeset as one protojson line.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

func (s *StdoutSink) Apply(ctx context.Context, cs *changeset.Changeset) error {
	pb, err := cs.ToProto()
	if err != nil {
		return fmt.Errorf("failed to render changeset of block %d: %w", cs.Clock.Number, err)
	}
	return s.writeLine(pb)
}

func (s *StdoutSink) Undo(ctx context.Context, toBlock uint64) error {
	pb, err := structpb.NewStruct(map[string]interface{}{
		"undo": map[string]interface{}{"toBlock": toBlock},
	})
	if err != nil {
		return err
	}
	return s.writeLine(pb)
}

func (s *StdoutSink) writeLine(pb *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: false}.Marshal(pb)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *StdoutSink) Close() error {
	return nil
}
