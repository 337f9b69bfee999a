package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/gobdoc/validation"
	"github.com/georgepadayatti/gobdoc/xades"
)

// ErrConcurrentModification is returned when the signature set changed while
// an extension was acquiring evidence.
var ErrConcurrentModification = errors.New("signatures were modified during extension")

// UnsupportedExtensionError reports a transition with no edge in the
// extension table, including any request for LT_TM.
type UnsupportedExtensionError struct {
	SignatureID string
	Current     xades.Profile
	Target      xades.Profile
}

func (e *UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("extending signature %s from %s to %s is not supported", e.SignatureID, e.Current, e.Target)
}

// AlreadyExtendedError reports a target that is not stronger than the
// current profile.
type AlreadyExtendedError struct {
	SignatureID string
	Current     xades.Profile
	Target      xades.Profile
}

func (e *AlreadyExtendedError) Error() string {
	return fmt.Sprintf("signature %s is already %s, cannot extend to %s", e.SignatureID, e.Current, e.Target)
}

// ExtensionError wraps a failure while acquiring or applying trust
// evidence. The container is left unchanged.
type ExtensionError struct {
	SignatureID string
	Target      xades.Profile
	Err         error
}

func (e *ExtensionError) Error() string {
	if e.SignatureID == "" {
		return fmt.Sprintf("extension to %s failed: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("extending signature %s to %s failed: %v", e.SignatureID, e.Target, e.Err)
}

func (e *ExtensionError) Unwrap() error {
	return e.Err
}

// CheckExtension reports whether sig may be extended to target.
func CheckExtension(sig *xades.Signature, target xades.Profile) error {
	current := sig.Profile()
	switch {
	case target == xades.ProfileLTTM || !target.Valid():
		return &UnsupportedExtensionError{SignatureID: sig.ID, Current: current, Target: target}
	case current.AtLeast(target):
		return &AlreadyExtendedError{SignatureID: sig.ID, Current: current, Target: target}
	case !current.CanExtendTo(target):
		return &UnsupportedExtensionError{SignatureID: sig.ID, Current: current, Target: target}
	}
	return nil
}

// ExtendSignatureProfile upgrades every signature to target. Every
// transition is checked before acquiring any evidence. The updated
// signatures replace the old ones only when all of them succeeded; on any
// error the container is unchanged.
func (c *Container) ExtendSignatureProfile(ctx context.Context, acquirer validation.EvidenceAcquirer, target xades.Profile) error {
	return c.extend(ctx, acquirer, target, nil)
}

// ExtendSignature upgrades the signature with the given id to target.
func (c *Container) ExtendSignature(ctx context.Context, acquirer validation.EvidenceAcquirer, id string, target xades.Profile) error {
	return c.extend(ctx, acquirer, target, func(sig *xades.Signature) bool { return sig.ID == id })
}

func (c *Container) extend(ctx context.Context, acquirer validation.EvidenceAcquirer, target xades.Profile, selected func(*xades.Signature) bool) error {
	entries, generation := c.snapshot()

	var work []int
	for i, e := range entries {
		if selected != nil && !selected(e.sig) {
			continue
		}
		if err := CheckExtension(e.sig, target); err != nil {
			log.WithError(err).Debug("extension rejected")
			return err
		}
		work = append(work, i)
	}
	if len(work) == 0 {
		if selected != nil {
			return &ExtensionError{Target: target, Err: errors.New("signature not found")}
		}
		return nil
	}

	updated := append([]entry(nil), entries...)
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range work {
		old := entries[i]
		g.Go(func() error {
			sig, err := c.extendOne(gctx, acquirer, old.sig, target)
			if err != nil {
				return &ExtensionError{SignatureID: old.sig.ID, Target: target, Err: err}
			}
			updated[i] = entry{name: old.name, sig: sig}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("signature extension failed")
		return err
	}
	if err := ctx.Err(); err != nil {
		return &ExtensionError{Target: target, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return &ExtensionError{Target: target, Err: ErrConcurrentModification}
	}
	c.signatures = updated
	c.generation++
	log.WithFields(logrus.Fields{"signatures": len(work), "profile": target}).Info("signatures extended")
	return nil
}

func (c *Container) extendOne(ctx context.Context, acquirer validation.EvidenceAcquirer, sig *xades.Signature, target xades.Profile) (*xades.Signature, error) {
	raw, err := acquirer.AcquireTrustEvidence(ctx, bytes.Clone(sig.Raw), target)
	if err != nil {
		return nil, err
	}
	extended, err := c.parser.Extract(raw)
	if err != nil {
		return nil, fmt.Errorf("extended signature is unreadable: %w", err)
	}
	if extended.ID != sig.ID {
		return nil, fmt.Errorf("extended signature has id %s", extended.ID)
	}
	if got := extended.Profile(); got != target {
		return nil, fmt.Errorf("extended signature is %s", got)
	}
	log.WithFields(logrus.Fields{"signature": sig.ID, "from": sig.Profile(), "to": target}).Debug("signature extended")
	return extended, nil
}
