package wasmgen

// cTemplate is the fixed C source shipped with every build. Inject
// substitutes the {{NAME}} placeholders
// below with the generated S-box tables, the opcode→action table and a
// handful of scalar constants; the result is compiled to WebAssembly by
// Compile. Keeping the action logic itself fixed (only the tables
// change) is what lets the reference vm package and this WASM build
// agree byte-for-byte.
const cTemplate = `
#include <stdint.h>

static const uint8_t VM[256]        = {{VM_TABLE}};
static const uint8_t VM_INV[256]    = {{VM_INV_TABLE}};
static const uint8_t OPCODE_ACTION[256] = {{OPCODE_ACTION_TABLE}};
static const char BUILD_ID[]        = {{BUILD_ID_STRING}};
static const int NUM_ACTIONS        = {{NUM_ACTIONS}};

extern int chacha_poly_decrypt(
    uint8_t *out_ptr, uint32_t *out_len_ptr,
    const uint8_t *ct_ptr, uint32_t ct_len,
    const uint8_t *key_ptr, const uint8_t *iv_ptr, const uint8_t *tag_ptr,
    const uint8_t *aad_ptr, uint32_t aad_len);

{{ACTION_DISPATCH_BODY}}

__attribute__((export_name("vm_run")))
int32_t vm_run(uint8_t *buf, uint32_t buf_len, const uint8_t *ops, uint32_t ops_len) {
    return vm_dispatch(buf, buf_len, ops, ops_len, OPCODE_ACTION, VM, VM_INV);
}
`

// Placeholder is one {{NAME}} substitution site in cTemplate.
type Placeholder struct {
	Name string
	Kind PlaceholderKind
}

// PlaceholderKind distinguishes the four substitution forms: array
// literal, integer literal, escaped C string, and verbatim fragment.
type PlaceholderKind int

const (
	KindArrayLiteral PlaceholderKind = iota
	KindIntLiteral
	KindCString
	KindVerbatim
)

// Template returns the fixed C source and the ordered list of
// placeholders it expects Inject to fill.
func Template() (string, []Placeholder) {
	return cTemplate, []Placeholder{
		{Name: "VM_TABLE", Kind: KindArrayLiteral},
		{Name: "VM_INV_TABLE", Kind: KindArrayLiteral},
		{Name: "OPCODE_ACTION_TABLE", Kind: KindArrayLiteral},
		{Name: "BUILD_ID_STRING", Kind: KindCString},
		{Name: "NUM_ACTIONS", Kind: KindIntLiteral},
		{Name: "ACTION_DISPATCH_BODY", Kind: KindVerbatim},
	}
}
