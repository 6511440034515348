package bpf

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
)

// requirePrivileges skips the test unless the process may create BPF maps.
func requirePrivileges(t *testing.T) {
	t.Helper()

	if err := rlimit.RemoveMemlock(); err != nil {
		t.Skipf("can't remove memlock limit: %v", err)
	}

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 1,
	})
	if err != nil {
		t.Skipf("bpf not available: %v", err)
	}

	m.Close()
}

func newRingBufMap(t *testing.T) *ebpf.Map {
	t.Helper()

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Type:       ebpf.RingBuf,
		MaxEntries: uint32(os.Getpagesize()),
	})
	if err != nil {
		t.Skipf("ring buffers not supported: %v", err)
	}

	t.Cleanup(func() { m.Close() })

	return m
}

func newPerfMap(t *testing.T) *ebpf.Map {
	t.Helper()

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Type: ebpf.PerfEventArray,
	})
	if err != nil {
		t.Fatalf("failed to create perf event array: %v", err)
	}

	t.Cleanup(func() { m.Close() })

	return m
}

// minimalObject assembles the smallest relocatable BPF ELF the loader
// accepts: a string table, a symbol table and a license section.
func minimalObject(t testing.TB) []byte {
	t.Helper()

	return elfObject(t, nil)
}

// elfObject is minimalObject plus, when data is not nil, a .data section
// holding data and a global variable covering all of it.
func elfObject(t testing.TB, data []byte) []byte {
	t.Helper()

	const (
		ehdrSize = 64
		shdrSize = 64
		symSize  = 24

		shtProgbits = 1
		shtSymtab   = 2
		shtStrtab   = 3
		shfWA       = 3 // SHF_WRITE | SHF_ALLOC
		stGlobalObj = 0x11
	)

	const (
		idxStrtab = iota + 1
		idxSymtab
		idxLicense
		idxData
	)

	strtab := []byte("\x00.strtab\x00.symtab\x00license\x00_license\x00.data\x00value\x00")
	const (
		nameStrtab  = 1
		nameSymtab  = 9
		nameLicense = 17
		nameSym     = 25
		nameData    = 34
		nameValue   = 40
	)

	license := []byte("GPL\x00")

	type sym struct {
		Name  uint32
		Info  uint8
		Other uint8
		Shndx uint16
		Value uint64
		Size  uint64
	}

	var symtab bytes.Buffer
	symtab.Write(make([]byte, symSize))
	binary.Write(&symtab, binary.LittleEndian, sym{nameSym, stGlobalObj, 0, idxLicense, 0, uint64(len(license))})

	if data != nil {
		binary.Write(&symtab, binary.LittleEndian, sym{nameValue, stGlobalObj, 0, idxData, 0, uint64(len(data))})
	}

	type shdr struct {
		Name      uint32
		Type      uint32
		Flags     uint64
		Addr      uint64
		Offset    uint64
		Size      uint64
		Link      uint32
		Info      uint32
		Addralign uint64
		Entsize   uint64
	}

	strtabOff := uint64(ehdrSize)
	symtabOff := alignUp(strtabOff+uint64(len(strtab)), 8)
	licenseOff := symtabOff + uint64(symtab.Len())
	dataOff := alignUp(licenseOff+uint64(len(license)), 8)
	shOff := alignUp(dataOff+uint64(len(data)), 8)

	sections := []shdr{
		{},
		{Name: nameStrtab, Type: shtStrtab, Offset: strtabOff, Size: uint64(len(strtab)), Addralign: 1},
		{Name: nameSymtab, Type: shtSymtab, Offset: symtabOff, Size: uint64(symtab.Len()), Link: idxStrtab, Info: 1, Addralign: 8, Entsize: symSize},
		{Name: nameLicense, Type: shtProgbits, Flags: shfWA, Offset: licenseOff, Size: uint64(len(license)), Addralign: 1},
	}

	if data != nil {
		sections = append(sections, shdr{Name: nameData, Type: shtProgbits, Flags: shfWA, Offset: dataOff, Size: uint64(len(data)), Addralign: 8})
	}

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, struct {
		Type      uint16
		Machine   uint16
		Version   uint32
		Entry     uint64
		Phoff     uint64
		Shoff     uint64
		Flags     uint32
		Ehsize    uint16
		Phentsize uint16
		Phnum     uint16
		Shentsize uint16
		Shnum     uint16
		Shstrndx  uint16
	}{1, 247, 1, 0, 0, shOff, 0, ehdrSize, 0, 0, shdrSize, uint16(len(sections)), idxStrtab})

	buf.Write(strtab)
	buf.Write(make([]byte, symtabOff-uint64(buf.Len())))
	buf.Write(symtab.Bytes())
	buf.Write(license)
	buf.Write(make([]byte, dataOff-uint64(buf.Len())))
	buf.Write(data)
	buf.Write(make([]byte, shOff-uint64(buf.Len())))

	for _, s := range sections {
		binary.Write(&buf, binary.LittleEndian, s)
	}

	return buf.Bytes()
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
