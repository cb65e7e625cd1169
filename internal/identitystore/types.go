package identitystore

// EncryptedSeedEnvelope is the argon2id/XChaCha20-Poly1305 encrypted form of
// a BIP-39 seed phrase, with the same fields as the teacher's securestore
// envelope. SeedManager holds it in memory; nothing in this module persists
// it.
type EncryptedSeedEnvelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}
