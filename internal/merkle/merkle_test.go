package merkle

import (
	"testing"

	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
)

func TestBuildSingleLeafDuplicatesRoot(t *testing.T) {
	leaf := "0xaaaa"
	tree, err := Build([]string{leaf})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	h := leafHash(leaf)
	want := hashing.Concat(h[:], h[:])
	if tree.Root() != want {
		t.Fatalf("root = %x, want H(hash||hash) = %x", tree.Root(), want)
	}

	proof, err := tree.Prove(leaf)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if len(proof.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1 (size-1 batch boundary behavior)", len(proof.Steps))
	}
	if proof.Steps[0].Sibling != h {
		t.Fatalf("sibling = %x, want leaf digest itself (duplication)", proof.Steps[0].Sibling)
	}
	if !Verify(leaf, proof) {
		t.Fatal("Verify failed to reconstruct root for single-leaf batch")
	}
}

func TestBuildTwoLeavesOneSiblingEach(t *testing.T) {
	a, b := "0xaaaa", "0xbbbb"
	tree, err := Build([]string{a, b})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ha := leafHash(a)
	hb := leafHash(b)
	wantRoot := hashing.Concat(ha[:], hb[:])
	if tree.Root() != wantRoot {
		t.Fatalf("root mismatch")
	}

	proofA, err := tree.Prove(a)
	if err != nil {
		t.Fatalf("Prove(a): %v", err)
	}
	if len(proofA.Steps) != 1 {
		t.Fatalf("len(proofA.Steps) = %d, want 1 (ceil(log2(2)))", len(proofA.Steps))
	}
	if !Verify(a, proofA) || !Verify(b, mustProve(t, tree, b)) {
		t.Fatal("inclusion proof failed to reconstruct root")
	}
}

func TestBuildOddCountDuplicatesLastNode(t *testing.T) {
	leaves := []string{"0x01", "0x02", "0x03"}
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, leaf := range leaves {
		proof := mustProve(t, tree, leaf)
		if !Verify(leaf, proof) {
			t.Fatalf("inclusion proof failed for %s", leaf)
		}
	}
}

func TestProveUnknownLeafFails(t *testing.T) {
	tree, err := Build([]string{"0x01"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := tree.Prove("0xdead"); err == nil {
		t.Fatal("expected error proving a hash not in the tree")
	}
}

func TestSortLeavesOrdersByTimestampThenHash(t *testing.T) {
	hashes := []string{"0xbbbb", "0xaaaa", "0xcccc"}
	keys := []int64{10, 10, 5}
	sorted := SortLeaves(hashes, keys)
	want := []string{"0xcccc", "0xaaaa", "0xbbbb"}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("sorted[%d] = %s, want %s", i, sorted[i], want[i])
		}
	}
}

func mustProve(t *testing.T, tree *Tree, hash string) *InclusionProof {
	t.Helper()
	proof, err := tree.Prove(hash)
	if err != nil {
		t.Fatalf("Prove(%s): %v", hash, err)
	}
	return proof
}
