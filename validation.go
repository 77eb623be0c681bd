package lneto

import (
	"errors"
	"fmt"
)

// ValidatorFlags configures optional Validator behavior.
type ValidatorFlags uint8

const (
	// ValidateEvilBit enables checking of the IPv4 "evil bit" (RFC 3514)
	// during ipv4.Frame.ValidateExceptCRC calls.
	ValidateEvilBit ValidatorFlags = 1 << iota
	// ValidateMultipleErrors allows a Validator to accumulate more than
	// one error per validation pass instead of keeping only the first.
	ValidateMultipleErrors
)

// Validator accumulates validation errors encountered while inspecting
// wire frames across the ethernet/arp/ipv4/udp/tcp packages. Frame types
// expose ValidateSize/ValidateExceptCRC methods that feed a shared
// Validator instead of returning an error directly, letting a caller run
// every layer's checks on a packet before deciding whether to drop it.
//
// The zero value is ready to use.
type Validator struct {
	flags       ValidatorFlags
	accum       []error
	accumBitpos []BitPosErr
}

// Flags returns the validator's configured behavior flags.
func (v *Validator) Flags() ValidatorFlags { return v.flags }

// SetFlags sets the validator's behavior flags.
func (v *Validator) SetFlags(f ValidatorFlags) { v.flags = f }

// ResetErr clears all accumulated errors, readying the Validator for reuse
// on the next packet.
func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
	v.accumBitpos = v.accumBitpos[:0]
}

// HasError reports whether any error has been recorded since the last
// ResetErr.
func (v *Validator) HasError() bool { return len(v.accum) != 0 }

// Err returns the accumulated validation error, or nil if none were
// recorded. Multiple errors are joined with errors.Join.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns the accumulated validation error, same as Err, and resets
// the Validator for reuse on the next packet.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}

// AddError registers err. Unless ValidateMultipleErrors is set, only the
// first error of a validation pass is kept; later calls are no-ops until
// the next ResetErr.
func (v *Validator) AddError(err error) {
	if err == nil {
		panic("lneto: nil error passed to Validator.AddError")
	}
	if len(v.accum) != 0 && v.flags&ValidateMultipleErrors == 0 {
		return
	}
	v.accum = append(v.accum, err)
}

// AddBitPosErr is like AddError but additionally records the bit range of
// the header field that failed validation, which [BitPosErr.Error]
// includes in its message for diagnostics.
func (v *Validator) AddBitPosErr(bitStart, bitLen int, err error) {
	if err == nil {
		panic("lneto: nil error passed to Validator.AddBitPosErr")
	} else if bitLen <= 0 {
		panic("lneto: non-positive bitLen passed to Validator.AddBitPosErr")
	}
	if len(v.accum) != 0 && v.flags&ValidateMultipleErrors == 0 {
		return
	}
	v.accumBitpos = append(v.accumBitpos, BitPosErr{BitStart: bitStart, BitLen: bitLen, Err: err})
	v.accum = append(v.accum, &v.accumBitpos[len(v.accumBitpos)-1])
}

// BitPosErr pinpoints a validation error to the bit range of the header
// field that produced it.
type BitPosErr struct {
	BitStart int
	BitLen   int
	Err      error
}

func (bpe *BitPosErr) Error() string {
	return fmt.Sprintf("%s at bits %d..%d", bpe.Err.Error(), bpe.BitStart, bpe.BitStart+bpe.BitLen)
}

func (bpe *BitPosErr) Unwrap() error { return bpe.Err }
