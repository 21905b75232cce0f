/*
Package revdb implements an embedded, revision-tracked document store on top
of a transactional key-value engine (Bolt by default, Badger, or in-memory).

We implement:

1. Documents, each holding a tree of revisions. Exactly one revision wins as
the current one; extra live leaves make the document conflicted.

2. Nestable transactions: Begin/End keep a depth counter over one storage
write transaction, and only the outermost End decides commit or rollback.

3. Enumerators over all documents (by ID), changes (by sequence) and expired
documents (by expiration time), each reading its own snapshot.

4. A content-addressed blob store, garbage-collected by Compact.

5. Raw documents: blind key/value records in named stores.

6. Value encryption at rest with a transactional Rekey.

# Technical Details

**Buckets.**
Data lives in flat buckets. Bolt supports them natively; on Badger we emulate
them with key prefixes (bucket name and a zero byte).

**Sequences.**
Every document mutation takes the next number from a counter in the meta
bucket, inside the same storage transaction, so a rollback never leaves a
gap visible to readers and never reuses a number. The seqs bucket maps each
document's latest sequence to its ID, which is all Changes needs.

**Encryption.**
Only values are sealed (XChaCha20-Poly1305, with the bucket name and key as
associated data). Keys stay plaintext because every enumeration depends on
key order. The crypt bucket holds a sealed canary that rejects wrong keys.

## Binary encoding

**Document record** (docs bucket, key = document ID): msgpack of the revision
tree. Each node carries the revision ID, the index of its parent node (-1 for
roots), its sequence, flags, body size and whether its body is still stored.

**Bodies** (bodies bucket): key = uvarint(len(docID)), docID, revision ID.
Empty bodies are not stored.

**Expiry** (expiry bucket): key = big-endian uint64 unix milliseconds, docID.

**Blob value** (blobs bucket, key = SHA-1 of content):
1. Codec (byte): 0 raw, 1 zstd.
2. Content size (uvarint).
3. Payload.
*/
package revdb
