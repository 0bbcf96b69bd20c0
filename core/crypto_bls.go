package core

// crypto_bls.go isolates the herumi/bls-eth-go-binary bindings backing
// AggregatePeerAcks/VerifyAggregatedAck (crypto.go), grounded on
// core/security.go's AggregateBLSSigs/VerifyAggregated.

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"
)

func blsInitImpl() error {
	if err := bls.Init(bls.BLS12_381); err != nil {
		return fmt.Errorf("crypto: bls init: %w", err)
	}
	if err := bls.SetETHmode(bls.EthModeDraft07); err != nil {
		return fmt.Errorf("crypto: bls eth mode: %w", err)
	}
	return nil
}

func aggregateBLSImpl(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("crypto: no signatures to aggregate")
	}
	var agg bls.Sign
	parsed := make([]bls.Sign, len(sigs))
	for i, raw := range sigs {
		if err := parsed[i].Deserialize(raw); err != nil {
			return nil, fmt.Errorf("crypto: bls deserialize sig %d: %w", i, err)
		}
	}
	agg.Aggregate(parsed)
	return agg.Serialize(), nil
}

func verifyAggregatedBLSImpl(pubs [][]byte, msg []byte, agg []byte) bool {
	var sig bls.Sign
	if err := sig.Deserialize(agg); err != nil {
		return false
	}
	parsedPubs := make([]bls.PublicKey, len(pubs))
	for i, raw := range pubs {
		if err := parsedPubs[i].Deserialize(raw); err != nil {
			return false
		}
	}
	msgs := make([][]byte, len(pubs))
	for i := range msgs {
		msgs[i] = msg
	}
	return sig.VerifyAggregateHashes(parsedPubs, msgs)
}

// GenerateBLSKeypair produces a fresh BLS keypair used by peers solely to
// sign gossip acknowledgements (not block production).
func GenerateBLSKeypair() (pub []byte, priv []byte, err error) {
	if err := ensureBLSInit(); err != nil {
		return nil, nil, err
	}
	var sec bls.SecretKey
	sec.SetByCSPRNG()
	p := sec.GetPublicKey()
	return p.Serialize(), sec.Serialize(), nil
}

// SignAck produces a BLS signature over hash using a raw serialized
// secret key, for peer gossip acknowledgement batching.
func SignAck(priv []byte, hash Hash) ([]byte, error) {
	if err := ensureBLSInit(); err != nil {
		return nil, err
	}
	var sec bls.SecretKey
	if err := sec.Deserialize(priv); err != nil {
		return nil, fmt.Errorf("crypto: bls deserialize priv: %w", err)
	}
	sig := sec.SignHash(hash[:])
	if sig == nil {
		return nil, fmt.Errorf("crypto: bls sign failed")
	}
	return sig.Serialize(), nil
}
