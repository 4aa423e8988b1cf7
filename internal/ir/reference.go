package ir

import (
	"encoding/json"
	"fmt"
)

// ReferenceKind is the storage tag of a ModuleReference variant.
type ReferenceKind string

const (
	KindApp         ReferenceKind = "app"
	KindAPI         ReferenceKind = "api"
	KindAccountBase ReferenceKind = "account_base"
	KindStandalone  ReferenceKind = "standalone"
	KindNative      ReferenceKind = "native"
)

// ModuleReference is what a registry entry points at. It is a closed sum
// type: code-template variants (App, AccountBase, Standalone) are deployed per
// account and upgraded by migration; address variants (API, Native) are shared
// singletons upgraded by swapping addresses.
type ModuleReference interface {
	Kind() ReferenceKind
	moduleReference()
}

// AppRef is an App module deployed per account from a code template.
type AppRef struct{ CodeID uint64 }

// APIRef is a shared API singleton at a fixed address.
type APIRef struct{ Addr Addr }

// AccountBaseRef is the code template of a manager or proxy.
type AccountBaseRef struct{ CodeID uint64 }

// StandaloneRef is a standalone contract deployed per account.
type StandaloneRef struct{ CodeID uint64 }

// NativeRef is a chain-native module at a fixed address.
type NativeRef struct{ Addr Addr }

func (AppRef) Kind() ReferenceKind         { return KindApp }
func (APIRef) Kind() ReferenceKind         { return KindAPI }
func (AccountBaseRef) Kind() ReferenceKind { return KindAccountBase }
func (StandaloneRef) Kind() ReferenceKind  { return KindStandalone }
func (NativeRef) Kind() ReferenceKind      { return KindNative }

func (AppRef) moduleReference()         {}
func (APIRef) moduleReference()         {}
func (AccountBaseRef) moduleReference() {}
func (StandaloneRef) moduleReference()  {}
func (NativeRef) moduleReference()      {}

// CodeID returns the code template id for code variants.
func CodeID(ref ModuleReference) (uint64, bool) {
	switch r := ref.(type) {
	case AppRef:
		return r.CodeID, true
	case AccountBaseRef:
		return r.CodeID, true
	case StandaloneRef:
		return r.CodeID, true
	case APIRef, NativeRef:
		return 0, false
	default:
		return 0, false
	}
}

// RefAddr returns the singleton address for address variants.
func RefAddr(ref ModuleReference) (Addr, bool) {
	switch r := ref.(type) {
	case APIRef:
		return r.Addr, true
	case NativeRef:
		return r.Addr, true
	case AppRef, AccountBaseRef, StandaloneRef:
		return "", false
	default:
		return "", false
	}
}

// ValidateReference checks that ref carries a usable code id or address.
func ValidateReference(ref ModuleReference) error {
	switch r := ref.(type) {
	case AppRef, AccountBaseRef, StandaloneRef:
		id, _ := CodeID(r)
		if id == 0 {
			return NewError(ErrCodeInvalidReference, fmt.Sprintf("%s reference requires a non-zero code id", r.Kind()))
		}
		return nil
	case APIRef:
		return ValidateAddr(r.Addr)
	case NativeRef:
		return ValidateAddr(r.Addr)
	case nil:
		return NewError(ErrCodeInvalidReference, "reference is required")
	default:
		return NewError(ErrCodeInvalidReference, fmt.Sprintf("unknown reference type %T", ref))
	}
}

// ReferenceRecord is the flat storage/JSON form of a ModuleReference.
type ReferenceRecord struct {
	Kind   ReferenceKind `json:"kind"`
	CodeID uint64        `json:"code_id,omitempty"`
	Addr   Addr          `json:"addr,omitempty"`
}

// EncodeReference flattens ref into its record form.
func EncodeReference(ref ModuleReference) ReferenceRecord {
	rec := ReferenceRecord{Kind: ref.Kind()}
	if id, ok := CodeID(ref); ok {
		rec.CodeID = id
	}
	if addr, ok := RefAddr(ref); ok {
		rec.Addr = addr
	}
	return rec
}

// DecodeReference rebuilds the variant named by rec.Kind.
func DecodeReference(rec ReferenceRecord) (ModuleReference, error) {
	switch rec.Kind {
	case KindApp:
		return AppRef{CodeID: rec.CodeID}, nil
	case KindAPI:
		return APIRef{Addr: rec.Addr}, nil
	case KindAccountBase:
		return AccountBaseRef{CodeID: rec.CodeID}, nil
	case KindStandalone:
		return StandaloneRef{CodeID: rec.CodeID}, nil
	case KindNative:
		return NativeRef{Addr: rec.Addr}, nil
	default:
		return nil, NewError(ErrCodeInvalidReference, fmt.Sprintf("unknown reference kind %q", rec.Kind))
	}
}

// MarshalJSON encodes the module with its flattened reference.
func (m Module) MarshalJSON() ([]byte, error) {
	var ref *ReferenceRecord
	if m.Reference != nil {
		rec := EncodeReference(m.Reference)
		ref = &rec
	}
	return json.Marshal(struct {
		Info      ModuleInfo       `json:"info"`
		Reference *ReferenceRecord `json:"reference,omitempty"`
	}{m.Info, ref})
}
