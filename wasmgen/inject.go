// Package wasmgen implements the C source injector and external WASM
// compiler invocation: a fixed C template has its {{NAME}} placeholders
// substituted with the per-build manifest's tables, and the result is
// handed to an external clang invocation targeting wasm32.
package wasmgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/synnergy-labs/challenge-gate/bytecode"
)

// ErrMissingPlaceholder is returned by Inject when the template does
// not contain a placeholder Inject expected to substitute.
type ErrMissingPlaceholder struct{ Name string }

func (e ErrMissingPlaceholder) Error() string {
	return fmt.Sprintf("wasmgen: template missing placeholder {{%s}}", e.Name)
}

// actionDispatchBody is the verbatim C fragment implementing the
// table-dispatched action set and the exported per-action entry points.
// It is substituted as-is (KindVerbatim); its action indices must stay
// in lock-step with bytecode.ActionNames and the vm package's dispatch
// table, and its exported names with the Exports list in compile.go.
const actionDispatchBody = `
static uint32_t rd_le(const uint8_t *p) {
    return (uint32_t)p[0] | ((uint32_t)p[1] << 8) | ((uint32_t)p[2] << 16) | ((uint32_t)p[3] << 24);
}
static void wr_le(uint8_t *p, uint32_t v) {
    p[0] = (uint8_t)v; p[1] = (uint8_t)(v >> 8); p[2] = (uint8_t)(v >> 16); p[3] = (uint8_t)(v >> 24);
}
static uint32_t rd_be(const uint8_t *p) {
    return ((uint32_t)p[0] << 24) | ((uint32_t)p[1] << 16) | ((uint32_t)p[2] << 8) | (uint32_t)p[3];
}
static void wr_be(uint8_t *p, uint32_t v) {
    p[0] = (uint8_t)(v >> 24); p[1] = (uint8_t)(v >> 16); p[2] = (uint8_t)(v >> 8); p[3] = (uint8_t)v;
}
static uint32_t rot_l(uint32_t v, uint32_t r) { return r ? (v << r) | (v >> (32 - r)) : v; }
static uint32_t rot_r(uint32_t v, uint32_t r) { return r ? (v >> r) | (v << (32 - r)) : v; }

static uint32_t crc32_of(const uint8_t *p, uint32_t n) {
    uint32_t crc = 0xffffffffu;
    for (uint32_t i = 0; i < n; i++) {
        crc ^= p[i];
        for (int b = 0; b < 8; b++)
            crc = (crc >> 1) ^ (0xedb88320u & (0u - (crc & 1u)));
    }
    return crc ^ 0xffffffffu;
}

static uint32_t adler32_of(const uint8_t *p, uint32_t n) {
    uint32_t a = 1, b = 0;
    for (uint32_t i = 0; i < n; i++) {
        a = (a + p[i]) % 65521u;
        b = (b + a) % 65521u;
    }
    return (b << 16) | a;
}

static int hex_val(uint8_t c) {
    if (c >= '0' && c <= '9') return c - '0';
    if (c >= 'a' && c <= 'f') return c - 'a' + 10;
    if (c >= 'A' && c <= 'F') return c - 'A' + 10;
    return -1;
}

__attribute__((export_name("vm_get")))
int32_t vm_get(int32_t i) { return VM[i & 0xff]; }

__attribute__((export_name("vm_get_inv")))
int32_t vm_get_inv(int32_t i) { return VM_INV[i & 0xff]; }

__attribute__((export_name("vm_apply")))
int32_t vm_apply(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i < buf_len; i++) buf[i] = VM[buf[i]];
    return 0;
}

__attribute__((export_name("vm_apply_inv")))
int32_t vm_apply_inv(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i < buf_len; i++) buf[i] = VM_INV[buf[i]];
    return 0;
}

__attribute__((export_name("xor_buf")))
int32_t xor_buf(uint8_t *buf, uint32_t buf_len, const uint8_t *key, uint32_t key_len) {
    if (key_len > 0)
        for (uint32_t i = 0; i < buf_len; i++) buf[i] ^= key[i % key_len];
    return 0;
}

__attribute__((export_name("crc32")))
int32_t crc32(uint8_t *buf, uint32_t buf_len) {
    if (buf_len >= 4) wr_be(buf + buf_len - 4, crc32_of(buf, buf_len - 4));
    return 0;
}

__attribute__((export_name("adler32")))
int32_t adler32(uint8_t *buf, uint32_t buf_len) {
    if (buf_len >= 4) wr_be(buf + buf_len - 4, adler32_of(buf, buf_len - 4));
    return 0;
}

__attribute__((export_name("xor_checksum")))
int32_t xor_checksum(uint8_t *buf, uint32_t buf_len) {
    if (buf_len >= 1) {
        uint8_t x = 0;
        for (uint32_t i = 0; i + 1 < buf_len; i++) x ^= buf[i];
        buf[buf_len - 1] = x;
    }
    return 0;
}

/* Expands in place back-to-front; the caller guarantees 2x capacity.
 * Only the even-length safe path runs; odd lengths are left untouched.
 * Returns the new length. */
__attribute__((export_name("to_hex")))
int32_t to_hex(uint8_t *buf, uint32_t buf_len) {
    static const char digits[] = "0123456789abcdef";
    if (buf_len & 1) return (int32_t)buf_len;
    for (uint32_t i = buf_len; i > 0; i--) {
        uint8_t b = buf[i - 1];
        buf[(i - 1) * 2] = (uint8_t)digits[b >> 4];
        buf[(i - 1) * 2 + 1] = (uint8_t)digits[b & 0x0f];
    }
    return (int32_t)(buf_len * 2);
}

/* Halves the buffer, stopping at the first non-hex pair. Returns the
 * new length, or -1 on odd-length input. */
__attribute__((export_name("from_hex")))
int32_t from_hex(uint8_t *buf, uint32_t buf_len) {
    if (buf_len & 1) return -1;
    uint32_t out = 0;
    for (uint32_t i = 0; i + 1 < buf_len; i += 2) {
        int hi = hex_val(buf[i]), lo = hex_val(buf[i + 1]);
        if (hi < 0 || lo < 0) break;
        buf[out++] = (uint8_t)((hi << 4) | lo);
    }
    return (int32_t)out;
}

__attribute__((export_name("read_u32be")))
int32_t read_u32be(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i + 4 <= buf_len; i += 4) wr_le(buf + i, rd_be(buf + i));
    return 0;
}

__attribute__((export_name("write_u32be")))
int32_t write_u32be(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i + 4 <= buf_len; i += 4) wr_be(buf + i, rd_le(buf + i));
    return 0;
}

__attribute__((export_name("read_u32le")))
int32_t read_u32le(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i + 4 <= buf_len; i += 4) wr_be(buf + i, rd_le(buf + i));
    return 0;
}

__attribute__((export_name("write_u32le")))
int32_t write_u32le(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i + 4 <= buf_len; i += 4) wr_le(buf + i, rd_be(buf + i));
    return 0;
}

__attribute__((export_name("rotl32")))
int32_t rotl32(uint8_t *buf, uint32_t buf_len, const uint8_t *key, uint32_t key_len) {
    if (key_len >= 1) {
        uint32_t r = key[0] & 31;
        for (uint32_t i = 0; i + 4 <= buf_len; i += 4) wr_le(buf + i, rot_l(rd_le(buf + i), r));
    }
    return 0;
}

__attribute__((export_name("rotr32")))
int32_t rotr32(uint8_t *buf, uint32_t buf_len, const uint8_t *key, uint32_t key_len) {
    if (key_len >= 1) {
        uint32_t r = key[0] & 31;
        for (uint32_t i = 0; i + 4 <= buf_len; i += 4) wr_le(buf + i, rot_r(rd_le(buf + i), r));
    }
    return 0;
}

__attribute__((export_name("swap32")))
int32_t swap32(uint8_t *buf, uint32_t buf_len) {
    for (uint32_t i = 0; i + 4 <= buf_len; i += 4) {
        uint8_t t = buf[i]; buf[i] = buf[i + 3]; buf[i + 3] = t;
        t = buf[i + 1]; buf[i + 1] = buf[i + 2]; buf[i + 2] = t;
    }
    return 0;
}

static void set_bit_words(uint8_t *buf, uint32_t buf_len, uint32_t bi, uint32_t on) {
    for (uint32_t i = 0; i + 4 <= buf_len; i += 4) {
        uint32_t v = rd_le(buf + i);
        v = on ? (v | (1u << bi)) : (v & ~(1u << bi));
        wr_le(buf + i, v);
    }
}

__attribute__((export_name("chacha_decrypt")))
int32_t chacha_decrypt(uint8_t *buf, uint32_t buf_len, const uint8_t *key, uint32_t key_len) {
    if (key_len < 60 || buf_len <= 16) return 0;
    uint32_t out_len = buf_len;
    return chacha_poly_decrypt(buf, &out_len, buf, buf_len,
                               key, key + 32, key + 44, 0, 0);
}

/* One action per index 0..18, keyed off the opcode_action table baked
 * in above; unassigned opcodes (255) are skipped. The ops stream is
 * [opcode][param_len][params...] repeated. Returns 0, or the failing
 * action's non-zero status. */
static int32_t vm_dispatch(uint8_t *buf, uint32_t buf_len,
                            const uint8_t *ops, uint32_t ops_len,
                            const uint8_t *opcode_action,
                            const uint8_t *vm_tbl, const uint8_t *vm_inv_tbl) {
    (void)vm_tbl; (void)vm_inv_tbl;
    uint32_t cur_len = buf_len;
    uint32_t i = 0;
    while (i + 2 <= ops_len) {
        uint8_t op = ops[i];
        uint8_t key_len = ops[i + 1];
        if (i + 2 + key_len > ops_len) break;
        const uint8_t *key = ops + i + 2;
        i += 2 + (uint32_t)key_len;

        uint8_t idx = opcode_action[op];
        if (idx >= NUM_ACTIONS) continue;

        int32_t rc;
        switch (idx) {
        case 0:  vm_apply(buf, cur_len); break;
        case 1:  vm_apply_inv(buf, cur_len); break;
        case 2:
        case 3:  xor_buf(buf, cur_len, key, key_len); break;
        case 4:  crc32(buf, cur_len); break;
        case 5:  adler32(buf, cur_len); break;
        case 6:  xor_checksum(buf, cur_len); break;
        case 7:  cur_len = (uint32_t)to_hex(buf, cur_len); break;
        case 8:
            rc = from_hex(buf, cur_len);
            if (rc < 0) return 1;
            cur_len = (uint32_t)rc;
            break;
        case 9:  read_u32be(buf, cur_len); break;
        case 10: write_u32be(buf, cur_len); break;
        case 11: read_u32le(buf, cur_len); break;
        case 12: write_u32le(buf, cur_len); break;
        case 13: rotl32(buf, cur_len, key, key_len); break;
        case 14: rotr32(buf, cur_len, key, key_len); break;
        case 15: swap32(buf, cur_len); break;
        case 16: break; /* get_bit: value-producing only, no buffer effect */
        case 17:
            if (key_len >= 2) set_bit_words(buf, cur_len, key[0] & 31, key[1] & 1);
            break;
        case 18:
            rc = chacha_decrypt(buf, cur_len, key, key_len);
            if (rc != 0) return rc;
            break;
        }
    }
    return 0;
}
`

// byteArrayLiteral renders a [256]byte as a C array literal.
func byteArrayLiteral(b [256]byte) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte('}')
	return sb.String()
}

// opcodeActionArrayLiteral renders the manifest's opcode→action table,
// mapping the sentinel 255 through unchanged (the C side treats 255 as
// "unassigned" identically to the Go side).
func opcodeActionArrayLiteral(table [256]int) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, v := range table {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(v))
	}
	sb.WriteByte('}')
	return sb.String()
}

// cString escapes s as a double-quoted C string literal.
func cString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// Inject substitutes every {{NAME}} placeholder in the fixed C template
// with values derived from m and buildID, returning the complete C
// source ready for Compile.
func Inject(m *bytecode.Manifest, buildID string) (string, error) {
	src, placeholders := Template()
	values := map[string]string{
		"VM_TABLE":             byteArrayLiteral(m.VM),
		"VM_INV_TABLE":         byteArrayLiteral(m.VMInv),
		"OPCODE_ACTION_TABLE":  opcodeActionArrayLiteral(m.OpcodeAction),
		"BUILD_ID_STRING":      cString(buildID),
		"NUM_ACTIONS":          strconv.Itoa(bytecode.NumActions),
		"ACTION_DISPATCH_BODY": actionDispatchBody,
	}
	for _, p := range placeholders {
		token := "{{" + p.Name + "}}"
		if !strings.Contains(src, token) {
			return "", ErrMissingPlaceholder{Name: p.Name}
		}
		src = strings.ReplaceAll(src, token, values[p.Name])
	}
	return src, nil
}
