/*
Package security provides the cryptographic primitives that protect a node's
local state at rest: the two-layer key wrapping scheme that ties the
encrypted contact store to the identity's hardware signing key, and helpers
for reading and describing X.509 leaf certificates handed out by pkg/identity.

# Key wrapping

Every node keeps a random 8-byte challenge C on first run (EnsureChallenge).
The identity's signing key signs C once; SHA-256 of that signature becomes
the wrap key K (DeriveWrapKey). K never touches disk. K wraps a random
32-byte database key K_db under AES-256-GCM (EnsureWrappedDBKey); only the
wrapped form of K_db is persisted. The contact store then encrypts its whole
JSON blob under K_db, also via AES-256-GCM (EncryptGCM/DecryptGCM).

	C (8 random bytes, on disk)
	  -> sign(C) via the identity's key
	  -> K = SHA-256(signature)        (never persisted)
	  -> K wraps K_db                  (wrapped form on disk)
	  -> K_db encrypts the store blob  (ciphertext on disk)

Losing the signing key makes K unrecoverable and the store unreadable by
design: there is no recovery path that doesn't involve the card.

# Certificate helpers

SaveCertToFile/LoadCertFromFile persist a peer's DER-encoded certificate
next to a contact record; CertInfo and the expiry helpers support the
"about to expire" diagnostics a CLI might want to print, without this
package knowing anything about issuance, which belongs to pkg/identity.
*/
package security
