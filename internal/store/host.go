package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/modacct/internal/ir"
)

// Code is an uploaded code template and the metadata its instances report.
type Code struct {
	ID           uint64          `json:"code_id"`
	Module       ir.ModuleID     `json:"module"`
	Version      string          `json:"version"`
	Dependencies ir.Dependencies `json:"dependencies"`
}

// Instance is a deployed contract instance.
type Instance struct {
	Addr   ir.Addr `json:"addr"`
	CodeID uint64  `json:"code_id"`
	Admin  ir.Addr `json:"admin,omitempty"`
	Label  string  `json:"label,omitempty"`
}

// LogEntry is one dispatched message.
type LogEntry struct {
	Seq       int64      `json:"seq"`
	TxToken   string     `json:"tx"`
	AccountID int64      `json:"account_id"`
	Depth     int        `json:"depth"`
	Type      ir.MsgType `json:"type"`
	Sender    ir.Addr    `json:"sender"`
	Target    ir.Addr    `json:"target"`
	Body      string     `json:"body"`
}

// UploadCode stores a code template and returns its id.
func (t *Tx) UploadCode(ctx context.Context, module ir.ModuleID, version string, deps ir.Dependencies) (uint64, error) {
	encoded, err := ir.EncodeDependencies(deps)
	if err != nil {
		return 0, fmt.Errorf("upload code: %w", err)
	}
	res, err := t.exec(ctx, `
		INSERT INTO codes (module_id, version, dependencies) VALUES (?, ?, ?)
	`, string(module), version, encoded)
	if err != nil {
		return 0, fmt.Errorf("upload code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upload code: last insert id: %w", err)
	}
	return uint64(id), nil
}

// Code returns the code template with the given id.
// Returns ErrNotFound if absent.
func (t *Tx) Code(ctx context.Context, id uint64) (Code, error) {
	var c Code
	var module, deps string
	err := t.queryRow(ctx, `
		SELECT code_id, module_id, version, dependencies FROM codes WHERE code_id = ?
	`, id).Scan(&c.ID, &module, &c.Version, &deps)
	if errors.Is(err, sql.ErrNoRows) {
		return Code{}, ErrNotFound
	}
	if err != nil {
		return Code{}, fmt.Errorf("get code: %w", err)
	}
	c.Module = ir.ModuleID(module)
	c.Dependencies, err = ir.DecodeDependencies(deps)
	if err != nil {
		return Code{}, err
	}
	return c, nil
}

// CreateInstance records a deployed instance.
// Returns ErrAlreadyExists if the address is taken.
func (t *Tx) CreateInstance(ctx context.Context, inst Instance) error {
	_, err := t.exec(ctx, `
		INSERT INTO instances (addr, code_id, admin, label) VALUES (?, ?, ?, ?)
	`, string(inst.Addr), inst.CodeID, string(inst.Admin), inst.Label)
	if isConstraintViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

// Instance returns the instance at addr.
// Returns ErrNotFound if absent.
func (t *Tx) Instance(ctx context.Context, addr ir.Addr) (Instance, error) {
	var inst Instance
	var a, admin string
	err := t.queryRow(ctx, `
		SELECT addr, code_id, admin, label FROM instances WHERE addr = ?
	`, string(addr)).Scan(&a, &inst.CodeID, &admin, &inst.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	if err != nil {
		return Instance{}, fmt.Errorf("get instance: %w", err)
	}
	inst.Addr, inst.Admin = ir.Addr(a), ir.Addr(admin)
	return inst, nil
}

// SetInstanceCode points an instance at a new code template.
func (t *Tx) SetInstanceCode(ctx context.Context, addr ir.Addr, codeID uint64) error {
	res, err := t.exec(ctx, `UPDATE instances SET code_id = ? WHERE addr = ?`, codeID, string(addr))
	if err != nil {
		return fmt.Errorf("set instance code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set instance code: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountInstances returns how many instances exist. Used to seed address
// derivation so that every new instance gets a fresh address.
func (t *Tx) CountInstances(ctx context.Context) (int64, error) {
	var n int64
	if err := t.queryRow(ctx, `SELECT COUNT(*) FROM instances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// WhitelistModule adds module to the proxy's whitelist. Idempotent.
func (t *Tx) WhitelistModule(ctx context.Context, proxy, module ir.Addr) error {
	_, err := t.exec(ctx, `
		INSERT INTO proxy_modules (proxy_addr, module_addr) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, string(proxy), string(module))
	if err != nil {
		return fmt.Errorf("whitelist module: %w", err)
	}
	return nil
}

// UnwhitelistModule removes module from the proxy's whitelist.
// Returns ErrNotFound if it was not whitelisted.
func (t *Tx) UnwhitelistModule(ctx context.Context, proxy, module ir.Addr) error {
	res, err := t.exec(ctx, `
		DELETE FROM proxy_modules WHERE proxy_addr = ? AND module_addr = ?
	`, string(proxy), string(module))
	if err != nil {
		return fmt.Errorf("unwhitelist module: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unwhitelist module: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsWhitelisted reports whether module is on the proxy's whitelist.
func (t *Tx) IsWhitelisted(ctx context.Context, proxy, module ir.Addr) (bool, error) {
	var n int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM proxy_modules WHERE proxy_addr = ? AND module_addr = ?
	`, string(proxy), string(module)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return n > 0, nil
}

// Whitelist returns the proxy's whitelisted module addresses, sorted.
func (t *Tx) Whitelist(ctx context.Context, proxy ir.Addr) ([]ir.Addr, error) {
	return t.addrs(ctx, "list whitelist", `
		SELECT module_addr FROM proxy_modules WHERE proxy_addr = ?
		ORDER BY module_addr COLLATE BINARY ASC
	`, string(proxy))
}

// Authorize lets addr call api on behalf of proxy. Idempotent.
func (t *Tx) Authorize(ctx context.Context, api, proxy, addr ir.Addr) error {
	_, err := t.exec(ctx, `
		INSERT INTO api_authorizations (api_addr, proxy_addr, authorized) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, string(api), string(proxy), string(addr))
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return nil
}

// Deauthorize revokes addr's authorization on api for proxy. Idempotent.
func (t *Tx) Deauthorize(ctx context.Context, api, proxy, addr ir.Addr) error {
	_, err := t.exec(ctx, `
		DELETE FROM api_authorizations WHERE api_addr = ? AND proxy_addr = ? AND authorized = ?
	`, string(api), string(proxy), string(addr))
	if err != nil {
		return fmt.Errorf("deauthorize: %w", err)
	}
	return nil
}

// ClearAuthorizations drops every authorization proxy holds on api.
func (t *Tx) ClearAuthorizations(ctx context.Context, api, proxy ir.Addr) error {
	_, err := t.exec(ctx, `
		DELETE FROM api_authorizations WHERE api_addr = ? AND proxy_addr = ?
	`, string(api), string(proxy))
	if err != nil {
		return fmt.Errorf("clear authorizations: %w", err)
	}
	return nil
}

// Authorizations returns the addresses authorized on api for proxy, sorted.
func (t *Tx) Authorizations(ctx context.Context, api, proxy ir.Addr) ([]ir.Addr, error) {
	return t.addrs(ctx, "list authorizations", `
		SELECT authorized FROM api_authorizations WHERE api_addr = ? AND proxy_addr = ?
		ORDER BY authorized COLLATE BINARY ASC
	`, string(api), string(proxy))
}

func (t *Tx) addrs(ctx context.Context, op, query string, args ...any) ([]ir.Addr, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []ir.Addr{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, ir.Addr(a))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

// AppendLog writes one message log entry. Seq must be unique; callers count
// on from MaxLogSeq inside the same transaction.
func (t *Tx) AppendLog(ctx context.Context, e LogEntry) error {
	_, err := t.exec(ctx, `
		INSERT INTO message_log (seq, tx_token, account_id, depth, msg_type, sender, target, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Seq, e.TxToken, e.AccountID, e.Depth, string(e.Type), string(e.Sender), string(e.Target), e.Body)
	if isConstraintViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// MaxLogSeq returns the highest logged seq, or 0 when the log is empty.
func (t *Tx) MaxLogSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.queryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM message_log`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max log seq: %w", err)
	}
	return seq, nil
}

// LogByTx returns a transaction's messages in execution order.
func (t *Tx) LogByTx(ctx context.Context, token string) ([]LogEntry, error) {
	return t.logEntries(ctx, `
		SELECT seq, tx_token, account_id, depth, msg_type, sender, target, body
		FROM message_log WHERE tx_token = ? ORDER BY seq ASC
	`, token)
}

// LogByAccount returns an account's messages in execution order.
func (t *Tx) LogByAccount(ctx context.Context, accountID int64) ([]LogEntry, error) {
	return t.logEntries(ctx, `
		SELECT seq, tx_token, account_id, depth, msg_type, sender, target, body
		FROM message_log WHERE account_id = ? ORDER BY seq ASC
	`, accountID)
}

func (t *Tx) logEntries(ctx context.Context, query string, args ...any) ([]LogEntry, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var typ, sender, target string
		if err := rows.Scan(&e.Seq, &e.TxToken, &e.AccountID, &e.Depth, &typ, &sender, &target, &e.Body); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Type, e.Sender, e.Target = ir.MsgType(typ), ir.Addr(sender), ir.Addr(target)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}
