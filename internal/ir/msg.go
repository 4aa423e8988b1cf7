package ir

import "fmt"

// MsgType names a Msg variant in logs and traces.
type MsgType string

const (
	MsgCreateModule              MsgType = "create_module"
	MsgAddModuleToProxy          MsgType = "add_module_to_proxy"
	MsgRemoveModuleFromProxy     MsgType = "remove_module_from_proxy"
	MsgMigrateContract           MsgType = "migrate_contract"
	MsgExecuteContract           MsgType = "execute_contract"
	MsgUpdateAuthorizedAddresses MsgType = "update_authorized_addresses"
	MsgDetachDependencies        MsgType = "detach_dependencies"
	MsgUpdateModuleAddresses     MsgType = "update_module_addresses"
	MsgFinalizeUpgrade           MsgType = "finalize_upgrade"
)

// Msg is an outbound message produced by the manager. It is a closed sum
// type; the host dispatches every variant with an exhaustive type switch.
// Each message is addressed to exactly one component.
type Msg interface {
	Type() MsgType
	Target() Addr
	outbound()
}

// CreateModule asks the module factory to deploy (or bind) a module for an
// account. The factory reports back through the manager's Register.
type CreateModule struct {
	Factory     Addr
	Module      ModuleInfo
	Reference   ModuleReference
	InitPayload Payload
}

// AddModuleToProxy whitelists a module address on the proxy.
type AddModuleToProxy struct {
	Proxy  Addr
	Module Addr
}

// RemoveModuleFromProxy removes a module address from the proxy whitelist.
type RemoveModuleFromProxy struct {
	Proxy  Addr
	Module Addr
}

// MigrateContract swaps the code behind a per-account instance. The address
// stays fixed.
type MigrateContract struct {
	Contract Addr
	CodeID   uint64
	Payload  Payload
}

// ExecuteContract forwards an opaque payload to a module.
type ExecuteContract struct {
	Contract Addr
	Payload  Payload
}

// UpdateAuthorizedAddresses edits the addresses an API instance accepts
// calls from on behalf of the account's proxy.
type UpdateAuthorizedAddresses struct {
	API    Addr
	Proxy  Addr
	Add    []Addr
	Remove []Addr
}

// DetachDependencies tells an API instance being replaced to release the
// dependency handles it holds for the account.
type DetachDependencies struct {
	API   Addr
	Proxy Addr
}

// UpdateModuleAddresses is a self-addressed message rewriting address book
// rows once the preceding messages have taken effect.
type UpdateModuleAddresses struct {
	Manager Addr
	Updates []ModuleAddress
}

// FinalizeUpgrade is the self-addressed callback that closes an upgrade
// batch by consuming its migration context.
type FinalizeUpgrade struct {
	Manager Addr
	BatchID string
}

func (CreateModule) Type() MsgType              { return MsgCreateModule }
func (AddModuleToProxy) Type() MsgType          { return MsgAddModuleToProxy }
func (RemoveModuleFromProxy) Type() MsgType     { return MsgRemoveModuleFromProxy }
func (MigrateContract) Type() MsgType           { return MsgMigrateContract }
func (ExecuteContract) Type() MsgType           { return MsgExecuteContract }
func (UpdateAuthorizedAddresses) Type() MsgType { return MsgUpdateAuthorizedAddresses }
func (DetachDependencies) Type() MsgType        { return MsgDetachDependencies }
func (UpdateModuleAddresses) Type() MsgType     { return MsgUpdateModuleAddresses }
func (FinalizeUpgrade) Type() MsgType           { return MsgFinalizeUpgrade }

func (m CreateModule) Target() Addr              { return m.Factory }
func (m AddModuleToProxy) Target() Addr          { return m.Proxy }
func (m RemoveModuleFromProxy) Target() Addr     { return m.Proxy }
func (m MigrateContract) Target() Addr           { return m.Contract }
func (m ExecuteContract) Target() Addr           { return m.Contract }
func (m UpdateAuthorizedAddresses) Target() Addr { return m.API }
func (m DetachDependencies) Target() Addr        { return m.API }
func (m UpdateModuleAddresses) Target() Addr     { return m.Manager }
func (m FinalizeUpgrade) Target() Addr           { return m.Manager }

func (CreateModule) outbound()              {}
func (AddModuleToProxy) outbound()          {}
func (RemoveModuleFromProxy) outbound()     {}
func (MigrateContract) outbound()           {}
func (ExecuteContract) outbound()           {}
func (UpdateAuthorizedAddresses) outbound() {}
func (DetachDependencies) outbound()        {}
func (UpdateModuleAddresses) outbound()     {}
func (FinalizeUpgrade) outbound()           {}

// EncodeMsg flattens msg into a map suitable for MarshalCanonical.
// Used for the message log and golden traces.
func EncodeMsg(msg Msg) (map[string]any, error) {
	out := map[string]any{
		"type":   string(msg.Type()),
		"target": string(msg.Target()),
	}
	switch m := msg.(type) {
	case CreateModule:
		out["module"] = m.Module.String()
		ref := EncodeReference(m.Reference)
		refMap := map[string]any{"kind": string(ref.Kind)}
		if ref.CodeID != 0 {
			refMap["code_id"] = ref.CodeID
		}
		if ref.Addr != "" {
			refMap["addr"] = string(ref.Addr)
		}
		out["reference"] = refMap
		out["payload"] = nonNilPayload(m.InitPayload)
	case AddModuleToProxy:
		out["module"] = string(m.Module)
	case RemoveModuleFromProxy:
		out["module"] = string(m.Module)
	case MigrateContract:
		out["code_id"] = m.CodeID
		out["payload"] = nonNilPayload(m.Payload)
	case ExecuteContract:
		out["payload"] = nonNilPayload(m.Payload)
	case UpdateAuthorizedAddresses:
		out["proxy"] = string(m.Proxy)
		out["add"] = addrList(m.Add)
		out["remove"] = addrList(m.Remove)
	case DetachDependencies:
		out["proxy"] = string(m.Proxy)
	case UpdateModuleAddresses:
		updates := make([]any, len(m.Updates))
		for i, u := range m.Updates {
			updates[i] = map[string]any{"id": string(u.ID), "addr": string(u.Addr)}
		}
		out["updates"] = updates
	case FinalizeUpgrade:
		out["batch_id"] = m.BatchID
	default:
		return nil, NewError(ErrCodeUnknownMessage, fmt.Sprintf("unknown message type %T", msg))
	}
	return out, nil
}

func nonNilPayload(p Payload) Payload {
	if len(p) == 0 {
		return EmptyPayload()
	}
	return p
}

func addrList(addrs []Addr) []any {
	out := make([]any, len(addrs))
	for i, a := range addrs {
		out[i] = string(a)
	}
	return out
}
