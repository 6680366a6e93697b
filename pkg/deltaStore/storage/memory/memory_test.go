package memory_test

import (
	"testing"

	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage/memory"
)

func TestInMemoryCheckpointStore(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func() (storage.CheckpointStore, error) {
			return memory.NewInMemoryCheckpointStore(), nil
		},
	}
	suite.Run(t)
}
