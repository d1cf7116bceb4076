package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string. Used for browser and
// tab identifiers handed to clients.
func NewKSUID() string {
	return ksuid.New().String()
}

// ValidKSUID reports whether s parses as a KSUID.
func ValidKSUID(s string) bool {
	_, err := ksuid.Parse(s)
	return err == nil
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

func snowflakeNode() *snowflake.Node {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n
			}
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node
}

// NewSnowflakeID returns a time-ordered id from the process-wide node.
// SNOWFLAKE_NODE selects the node number (default 1). Falls back to a KSUID if
// no node could be created.
func NewSnowflakeID() string {
	n := snowflakeNode()
	if n == nil {
		return NewKSUID()
	}
	return n.Generate().String()
}
