package crypto

import (
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

// KZG constants mirrored from the 4844 blob parameters
// (FIELD_ELEMENTS_PER_BLOB=4096, 32 bytes per field element).
const (
	KZGFieldElementsPerBlob = 4096
	KZGBytesPerFieldElement = 32
	KZGBytesPerBlob         = KZGFieldElementsPerBlob * KZGBytesPerFieldElement
	KZGBytesPerCommitment   = 48
)

var (
	kzgOnce sync.Once
	kzgCtx  *goethkzg.Context
	kzgErr  error
)

// KZGContext returns the process-wide KZG context initialized from the
// embedded Ethereum ceremony trusted setup. Initialization is deferred to
// first use because processing the SRS points takes seconds.
func KZGContext() (*goethkzg.Context, error) {
	kzgOnce.Do(func() {
		kzgCtx, kzgErr = goethkzg.NewContext4096Secure()
	})
	return kzgCtx, kzgErr
}

// BlobToCommitment computes the KZG commitment of a blob.
func BlobToCommitment(blob *goethkzg.Blob) (goethkzg.KZGCommitment, error) {
	ctx, err := KZGContext()
	if err != nil {
		return goethkzg.KZGCommitment{}, err
	}
	return ctx.BlobToKZGCommitment(blob, 0)
}

// ComputeKZGProof opens a blob at the challenge point z, returning the proof
// and the claimed evaluation y.
func ComputeKZGProof(blob *goethkzg.Blob, z goethkzg.Scalar) (goethkzg.KZGProof, goethkzg.Scalar, error) {
	ctx, err := KZGContext()
	if err != nil {
		return goethkzg.KZGProof{}, goethkzg.Scalar{}, err
	}
	return ctx.ComputeKZGProof(blob, z, 0)
}
