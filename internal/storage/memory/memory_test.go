package memory_test

import (
	"testing"

	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/internal/storage/memory"
	"github.com/Tap30/beacon-go/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return memory.New()
	})
}
