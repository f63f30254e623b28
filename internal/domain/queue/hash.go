package queue

import (
	"github.com/cespare/xxhash/v2"
)

// MaxPartitions is a sanity cap on the shard count.
const MaxPartitions = 64

// Shard routes a chat to a partition: xxhash64 of the chat-id string, modulo
// the partition count. The function is pure and deterministic across runs.
//
// Because the hash value is fixed per chat, doubling N keeps every chat on
// shard s or shard s+N: h mod 2N is always h mod N or h mod N + N. That
// halving property bounds data movement during capacity growth.
func Shard(chatKey string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(chatKey) % uint64(partitions))
}
