// Package id generates identifiers. Message sequence ids are snowflakes so
// they sort by creation time; they are unique per node, and the store retries
// the rare cross-node collision. Entity ids are UUIDs.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node    *snowflake.Node
	once    sync.Once
	initErr error
)

// Init sets the snowflake node id. Only the first call has an effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// NextSeq returns a time-ordered, unique int64. The generator defaults to
// node 1 when Init was never called.
func NextSeq() int64 {
	_ = Init(1)
	return node.Generate().Int64()
}

// NewUUID returns a random UUID string. Tests may replace it.
var NewUUID = func() string {
	return uuid.NewString()
}
