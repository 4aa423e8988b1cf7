package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMsg_Canonical(t *testing.T) {
	msg := MigrateContract{Contract: "mod1lending01", CodeID: 12, Payload: MustPayload(`{"b":1.5,"a":null}`)}
	m, err := EncodeMsg(msg)
	require.NoError(t, err)

	data, err := MarshalCanonical(m)
	require.NoError(t, err)
	assert.Equal(t,
		`{"code_id":12,"payload":{"b":1.5,"a":null},"target":"mod1lending01","type":"migrate_contract"}`,
		string(data))
}

func TestEncodeMsg_AllVariants(t *testing.T) {
	msgs := []Msg{
		CreateModule{Factory: "mod1factory01", Module: ModuleInfo{Provider: "acme", Name: "x", Version: Version("1.0.0")}, Reference: AppRef{CodeID: 1}},
		AddModuleToProxy{Proxy: "mod1proxy0001", Module: "mod1module001"},
		RemoveModuleFromProxy{Proxy: "mod1proxy0001", Module: "mod1module001"},
		MigrateContract{Contract: "mod1module001", CodeID: 2},
		ExecuteContract{Contract: "mod1module001"},
		UpdateAuthorizedAddresses{API: "mod1api00001", Proxy: "mod1proxy0001", Add: []Addr{"mod1trader001"}},
		DetachDependencies{API: "mod1api00001", Proxy: "mod1proxy0001"},
		UpdateModuleAddresses{Manager: "mod1manager01", Updates: []ModuleAddress{{ID: "acme:x", Addr: "mod1module001"}}},
		FinalizeUpgrade{Manager: "mod1manager01", BatchID: "batch-1"},
	}
	for _, msg := range msgs {
		t.Run(string(msg.Type()), func(t *testing.T) {
			m, err := EncodeMsg(msg)
			require.NoError(t, err)
			assert.Equal(t, string(msg.Type()), m["type"])
			assert.Equal(t, string(msg.Target()), m["target"])
			_, err = MarshalCanonical(m)
			require.NoError(t, err)
		})
	}
}

func TestEncodeMsg_EmptyPayloadDefaults(t *testing.T) {
	m, err := EncodeMsg(ExecuteContract{Contract: "mod1module001"})
	require.NoError(t, err)
	assert.Equal(t, EmptyPayload(), m["payload"])
}
