package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	ID         AccountID
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation inside a transaction.
type Instruction struct {
	ProgramID AccountID
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts the signing and read-only accounts in a message.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed portion of a legacy transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []AccountID
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// Transaction is a message plus one signature per required signer, in
// AccountKeys order.
type Transaction struct {
	Signatures []TxRef
	Message    Message
}

// system program instruction indices
const (
	systemCreateAccount uint32 = 0
	systemTransfer      uint32 = 2
)

// CreateAccountInstruction funds and allocates a new account owned by owner.
func CreateAccountInstruction(from, newAccount AccountID, lamports, space uint64, owner AccountID) Instruction {
	data := make([]byte, 4+8+8+32)
	binary.LittleEndian.PutUint32(data[0:4], systemCreateAccount)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	binary.LittleEndian.PutUint64(data[12:20], space)
	copy(data[20:52], owner[:])
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{ID: from, IsSigner: true, IsWritable: true},
			{ID: newAccount, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// TransferInstruction moves lamports between system-owned accounts.
func TransferInstruction(from, to AccountID, lamports uint64) Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], systemTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{ID: from, IsSigner: true, IsWritable: true},
			{ID: to, IsWritable: true},
		},
		Data: data,
	}
}

// WriteDataInstruction asks a data program to copy payload into the start
// of target's data region. target must already be owned by program.
func WriteDataInstruction(program, target AccountID, payload []byte) Instruction {
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{{ID: target, IsWritable: true}},
		Data:      append([]byte(nil), payload...),
	}
}

// SystemCreateAccount is the decoded form of a CreateAccount instruction.
type SystemCreateAccount struct {
	Lamports uint64
	Space    uint64
	Owner    AccountID
}

// DecodeSystemCreateAccount parses CreateAccount instruction data.
func DecodeSystemCreateAccount(data []byte) (SystemCreateAccount, bool) {
	if len(data) != 52 || binary.LittleEndian.Uint32(data[0:4]) != systemCreateAccount {
		return SystemCreateAccount{}, false
	}
	var out SystemCreateAccount
	out.Lamports = binary.LittleEndian.Uint64(data[4:12])
	out.Space = binary.LittleEndian.Uint64(data[12:20])
	copy(out.Owner[:], data[20:52])
	return out, true
}

// DecodeSystemTransfer parses Transfer instruction data.
func DecodeSystemTransfer(data []byte) (uint64, bool) {
	if len(data) != 12 || binary.LittleEndian.Uint32(data[0:4]) != systemTransfer {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[4:12]), true
}

// CompileMessage orders accounts the way ledger nodes expect: the payer
// first, then writable signers, read-only signers, writable non-signers and
// read-only non-signers.
func CompileMessage(payer AccountID, blockhash Hash, instrs []Instruction) (Message, error) {
	type acct struct {
		id       AccountID
		signer   bool
		writable bool
	}
	order := []AccountID{payer}
	metas := map[AccountID]*acct{payer: {id: payer, signer: true, writable: true}}

	add := func(id AccountID, signer, writable bool) {
		m, ok := metas[id]
		if !ok {
			m = &acct{id: id}
			metas[id] = m
			order = append(order, id)
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}
	for _, ix := range instrs {
		for _, a := range ix.Accounts {
			add(a.ID, a.IsSigner, a.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}
	if len(order) > 256 {
		return Message{}, errors.New("too many accounts in transaction")
	}

	var ws, rs, wu, ru []AccountID
	for _, id := range order {
		m := metas[id]
		switch {
		case m.signer && m.writable:
			ws = append(ws, id)
		case m.signer:
			rs = append(rs, id)
		case m.writable:
			wu = append(wu, id)
		default:
			ru = append(ru, id)
		}
	}

	keys := make([]AccountID, 0, len(order))
	keys = append(keys, ws...)
	keys = append(keys, rs...)
	keys = append(keys, wu...)
	keys = append(keys, ru...)

	index := make(map[AccountID]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(ws) + len(rs)),
			NumReadonlySignedAccounts:   uint8(len(rs)),
			NumReadonlyUnsignedAccounts: uint8(len(ru)),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
	}
	for _, ix := range instrs {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Data:           ix.Data,
		}
		for _, a := range ix.Accounts {
			ci.Accounts = append(ci.Accounts, index[a.ID])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// IsWritable reports whether the account at index i may be mutated.
func (m *Message) IsWritable(i int) bool {
	h := m.Header
	nSigned := int(h.NumRequiredSignatures)
	if i < nSigned {
		return i < nSigned-int(h.NumReadonlySignedAccounts)
	}
	return i < len(m.AccountKeys)-int(h.NumReadonlyUnsignedAccounts)
}

// IsSigner reports whether the account at index i must sign.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// Serialize encodes the message in the legacy wire format.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySignedAccounts)
	buf.WriteByte(m.Header.NumReadonlyUnsignedAccounts)
	writeCompactU16(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeCompactU16(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

// Sign fills in one signature per required signer. Every required signer
// must be present in signers.
func (tx *Transaction) Sign(signers ...Signer) error {
	msg := tx.Message.Serialize()
	n := int(tx.Message.Header.NumRequiredSignatures)
	tx.Signatures = make([]TxRef, n)
	byKey := make(map[AccountID]Signer, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}
	for i := 0; i < n; i++ {
		key := tx.Message.AccountKeys[i]
		s, ok := byKey[key]
		if !ok {
			return fmt.Errorf("missing signer for %s", key)
		}
		sig, err := s.Sign(msg)
		if err != nil {
			return fmt.Errorf("sign with %s: %w", key, err)
		}
		copy(tx.Signatures[i][:], sig)
	}
	return nil
}

// VerifySignatures checks every signature against its account key.
func (tx *Transaction) VerifySignatures() error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n {
		return fmt.Errorf("expected %d signatures, got %d", n, len(tx.Signatures))
	}
	msg := tx.Message.Serialize()
	for i := 0; i < n; i++ {
		key := tx.Message.AccountKeys[i]
		if !ed25519.Verify(ed25519.PublicKey(key[:]), msg, tx.Signatures[i][:]) {
			return fmt.Errorf("invalid signature for %s", key)
		}
	}
	return nil
}

// Ref is the transaction's identifying signature (the fee payer's).
func (tx *Transaction) Ref() TxRef {
	if len(tx.Signatures) == 0 {
		return TxRef{}
	}
	return tx.Signatures[0]
}

// Serialize encodes the signed transaction.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf.Write(s[:])
	}
	buf.Write(tx.Message.Serialize())
	return buf.Bytes()
}

// DecodeTransaction parses a legacy wire-format transaction.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)
	tx := &Transaction{}

	nsig, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("signature count: %w", err)
	}
	tx.Signatures = make([]TxRef, nsig)
	for i := range tx.Signatures {
		if _, err := io.ReadFull(r, tx.Signatures[i][:]); err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
	}

	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("message header: %w", err)
	}
	m := &tx.Message
	m.Header = MessageHeader{hdr[0], hdr[1], hdr[2]}

	nkeys, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("account key count: %w", err)
	}
	m.AccountKeys = make([]AccountID, nkeys)
	for i := range m.AccountKeys {
		if _, err := io.ReadFull(r, m.AccountKeys[i][:]); err != nil {
			return nil, fmt.Errorf("account key %d: %w", i, err)
		}
	}
	if _, err := io.ReadFull(r, m.RecentBlockhash[:]); err != nil {
		return nil, fmt.Errorf("recent blockhash: %w", err)
	}

	nix, err := readCompactU16(r)
	if err != nil {
		return nil, fmt.Errorf("instruction count: %w", err)
	}
	for i := 0; i < nix; i++ {
		prog, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("instruction %d program: %w", i, err)
		}
		na, err := readCompactU16(r)
		if err != nil {
			return nil, fmt.Errorf("instruction %d account count: %w", i, err)
		}
		accts := make([]byte, na)
		if _, err := io.ReadFull(r, accts); err != nil {
			return nil, fmt.Errorf("instruction %d accounts: %w", i, err)
		}
		nd, err := readCompactU16(r)
		if err != nil {
			return nil, fmt.Errorf("instruction %d data length: %w", i, err)
		}
		data := make([]byte, nd)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("instruction %d data: %w", i, err)
		}
		for _, a := range accts {
			if int(a) >= nkeys {
				return nil, fmt.Errorf("instruction %d references account %d of %d", i, a, nkeys)
			}
		}
		if int(prog) >= nkeys {
			return nil, fmt.Errorf("instruction %d references program %d of %d", i, prog, nkeys)
		}
		m.Instructions = append(m.Instructions, CompiledInstruction{
			ProgramIDIndex: prog,
			Accounts:       accts,
			Data:           data,
		})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}
	if int(m.Header.NumRequiredSignatures) > nkeys {
		return nil, errors.New("header requires more signers than account keys")
	}
	return tx, nil
}

// writeCompactU16 writes the 1-3 byte little-endian varint used for array
// lengths.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func readCompactU16(r io.ByteReader) (int, error) {
	var v, shift int
	for i := 0; i < 3; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, errors.New("compact-u16 overflow")
}
