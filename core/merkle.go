package core

// merkle.go computes the transaction Merkle root used by BlockHeader,
// grounded on core/merkle_tree_operations.go's level-by-level tree
// construction, switched from SHA-256 to Blake3 to match the hashing
// primitive required by §4.1/§4.2, and with leaves ordered by transaction
// position rather than sorted (block bodies are an ordered sequence, not a
// set).

// ComputeMerkleRoot returns the Blake3 Merkle root over the canonical
// encoding of each transaction, in body order. An empty body's root is the
// hash of the empty string.
func ComputeMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return HashBytes(nil)
	}
	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = domainHash("merkle-leaf|", EncodeTransaction(tx))
	}
	for len(level) > 1 {
		next := make([]Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := left
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = domainHash("merkle-node|", left[:], right[:])
		}
		level = next
	}
	return level[0]
}
