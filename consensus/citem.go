package consensus

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/bfte-project/bfte/crypto"
)

// ModuleId identifies a plug-in module. The core treats module payloads as
// opaque bytes; only the router (package module) interprets ModuleId.
type ModuleId uint32

// CItem is a consensus item: an opaque, signed, module-addressed input that
// the federation agrees to order. Block payloads are a deterministic
// serialization of an ordered sequence of CItems.
type CItem struct {
	ModuleId     ModuleId
	ModuleInput  []byte
	Signer       crypto.PeerId
	Signature    crypto.Signature
}

// SignBytes returns the canonical bytes a peer signs to submit this CItem.
func (c CItem) SignBytes() []byte {
	e := newEncoder(domainCItem)
	e.u32(uint32(c.ModuleId)).bytesField(c.ModuleInput).peerId(c.Signer)
	return e.bytes()
}

// Sign fills in Signer and Signature using key.
func (c CItem) Sign(key *crypto.SigningKey) CItem {
	c.Signer = key.PeerId()
	c.Signature = key.Sign(c.SignBytes())
	return c
}

// VerifySignature checks the CItem's signature against its claimed signer.
func (c CItem) VerifySignature() error {
	return crypto.VerifyOrErr(c.Signer, c.SignBytes(), c.Signature)
}

// MarshalCanonical encodes a single CItem, length-prefixed.
func (c CItem) MarshalCanonical() []byte {
	e := &encoder{}
	e.u32(uint32(c.ModuleId)).bytesField(c.ModuleInput).peerId(c.Signer).sig(c.Signature)
	return e.bytes()
}

// sortKey orders CItems by (module_id, signer, signature) per §4.3 step 2.
func (c CItem) sortKey() []byte {
	e := &encoder{}
	e.u32(uint32(c.ModuleId)).peerId(c.Signer).sig(c.Signature)
	return e.bytes()
}

// OrderCItems deterministically orders and deduplicates a batch of CItems:
// ordering key (module_id, signer, signature), duplicates removed — exactly
// the block-payload ordering rule from §4.3 step 2.
func OrderCItems(items []CItem) []CItem {
	seen := make(map[string]bool, len(items))
	out := make([]CItem, 0, len(items))
	for _, it := range items {
		k := string(it.sortKey())
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].sortKey(), out[j].sortKey()) < 0
	})
	return out
}

// EncodePayload deterministically serializes an ordered CItem sequence into
// a block payload.
func EncodePayload(items []CItem) []byte {
	e := &encoder{}
	e.u32(uint32(len(items)))
	for _, it := range items {
		e.bytesField(it.MarshalCanonical())
	}
	return e.bytes()
}

// DecodePayload parses a block payload back into its CItem sequence.
func DecodePayload(payload []byte) ([]CItem, error) {
	d := &decoder{buf: payload}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	// Every item carries at least a 4-byte length prefix, so a count the
	// remaining bytes cannot hold is rejected before anything is allocated.
	if uint64(n) > uint64(len(d.buf)-d.pos)/4 {
		return nil, fmt.Errorf("consensus: payload item count %d exceeds payload size", n)
	}
	items := make([]CItem, 0, n)
	for i := uint32(0); i < n; i++ {
		raw, err := d.bytesField()
		if err != nil {
			return nil, err
		}
		sub := &decoder{buf: raw}
		modID, err := sub.u32()
		if err != nil {
			return nil, err
		}
		input, err := sub.bytesField()
		if err != nil {
			return nil, err
		}
		signer, err := sub.peerId()
		if err != nil {
			return nil, err
		}
		sig, err := sub.sig()
		if err != nil {
			return nil, err
		}
		if err := sub.finished(); err != nil {
			return nil, err
		}
		items = append(items, CItem{ModuleId: ModuleId(modID), ModuleInput: input, Signer: signer, Signature: sig})
	}
	if err := d.finished(); err != nil {
		return nil, err
	}
	return items, nil
}
