package index

import (
	"sync"

	"github.com/tronrun/tron/internal/rag/parser/markdown"
	"github.com/tronrun/tron/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
