package transformer

import (
	"testing"

	"github.com/mashable/elasticsearch-river-mongodb/publisher"
)

// TestTransformersImplementInterface verifies that every transformer
// implements the publisher.Transformer interface at compile time
func TestTransformersImplementInterface(t *testing.T) {
	var _ publisher.Transformer = (*DebeziumTransformer)(nil)
	var _ publisher.Transformer = (*DocumentTransformer)(nil)
}
