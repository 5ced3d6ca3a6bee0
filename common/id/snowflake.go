// Package id generates run IDs. Snowflake IDs are time-ordered, so run
// history sorts chronologically by ID without a separate sequence column.
package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Each process gets its own node so server-enqueued and worker-generated
// IDs never collide.
const (
	NodeServer int64 = 1
	NodeWorker int64 = 2
)

var (
	node    *snowflake.Node
	initErr error
	once    sync.Once
)

// Init sets up the generator for this process. Must be called once before
// New; later calls are no-ops.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	if initErr != nil {
		return fmt.Errorf("creating snowflake node %d: %w", nodeID, initErr)
	}
	return nil
}

// New returns the next run ID.
func New() int64 {
	return node.Generate().Int64()
}
