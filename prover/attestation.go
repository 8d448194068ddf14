package prover

import (
	"context"
	"crypto/ecdsa"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// QuoteBuilder is the enclave collaborator: it wraps up to 64 bytes of
// report data (here: the new 64-byte uncompressed public key) into a remote-attestation
// quote.
type QuoteBuilder interface {
	BuildQuote(ctx context.Context, reportData []byte) ([]byte, error)
}

// VerifierContract is the on-chain collaborator exposing the attestation
// registry.
type VerifierContract interface {
	AttestValiditySeconds(ctx context.Context) (uint64, error)
	// AttestedTime returns the timestamp the prover was last attested at, or
	// zero when unattested.
	AttestedTime(ctx context.Context, prover types.Address) (uint64, error)
	SubmitAttestationReport(ctx context.Context, prover types.Address, report []byte) error
}

// RefreshInterval is how often the refresher re-checks remaining validity.
const RefreshInterval = 5 * time.Second

// maxSubmitCooldown caps how often a quote may be resubmitted.
const maxSubmitCooldown = 180 * time.Second

// AttestationRefresher keeps the enclave key attested: once the remaining
// validity drops below half, it generates a new keypair, submits a quote
// carrying the new public key and installs the key after approval.
type AttestationRefresher struct {
	key      *ProverKey
	quotes   QuoteBuilder
	contract VerifierContract

	lastSubmit time.Time
	pending    *ecdsa.PrivateKey
	now        func() time.Time
}

// NewAttestationRefresher wires the refresher over its collaborators.
func NewAttestationRefresher(key *ProverKey, quotes QuoteBuilder, contract VerifierContract) *AttestationRefresher {
	return &AttestationRefresher{
		key:      key,
		quotes:   quotes,
		contract: contract,
		now:      time.Now,
	}
}

// Run loops until the context is cancelled.
func (r *AttestationRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				logger.Warn("attestation refresh failed", "err", err)
			}
		}
	}
}

// Tick performs one refresh step. Exported for tests and for callers that
// drive their own scheduling.
func (r *AttestationRefresher) Tick(ctx context.Context) error {
	validity, err := r.contract.AttestValiditySeconds(ctx)
	if err != nil {
		return err
	}

	// A pending key becomes active as soon as the chain reports it attested.
	if r.pending != nil {
		pendingAddr := crypto.PubkeyToAddress(&r.pending.PublicKey)
		attested, err := r.contract.AttestedTime(ctx, pendingAddr)
		if err != nil {
			return err
		}
		if attested > 0 {
			r.key.Rotate(r.pending)
			r.pending = nil
			logger.Info("attested key installed", "prover", pendingAddr.Hex())
			return nil
		}
	}

	attested, err := r.contract.AttestedTime(ctx, r.key.Address())
	if err != nil {
		return err
	}
	remaining := int64(attested) + int64(validity) - r.now().Unix()
	if remaining > int64(validity)/2 {
		return nil
	}

	cooldown := time.Duration(validity/2) * time.Second
	if cooldown > maxSubmitCooldown {
		cooldown = maxSubmitCooldown
	}
	if !r.lastSubmit.IsZero() && r.now().Sub(r.lastSubmit) < cooldown {
		return nil
	}

	if r.pending == nil {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		r.pending = key
	}
	pendingAddr := crypto.PubkeyToAddress(&r.pending.PublicKey)
	quote, err := r.quotes.BuildQuote(ctx, gethcrypto.FromECDSAPub(&r.pending.PublicKey)[1:])
	if err != nil {
		return err
	}
	if err := r.contract.SubmitAttestationReport(ctx, pendingAddr, quote); err != nil {
		return err
	}
	r.lastSubmit = r.now()
	logger.Info("attestation report submitted", "prover", pendingAddr.Hex())
	return nil
}
