package x11

import (
	"unicode"

	"github.com/jezek/xgb/xproto"

	"github.com/MatthiasKunnen/trlock/pkg/unlock"
)

// Keysyms with a meaning to the prompt, from X11/keysymdef.h.
const (
	xkNoSymbol  xproto.Keysym = 0
	xkBackSpace xproto.Keysym = 0xff08
	xkTab       xproto.Keysym = 0xff09
	xkLinefeed  xproto.Keysym = 0xff0a
	xkClear     xproto.Keysym = 0xff0b
	xkReturn    xproto.Keysym = 0xff0d
	xkEscape    xproto.Keysym = 0xff1b
	xkNumLock   xproto.Keysym = 0xff7f
	xkKPSpace   xproto.Keysym = 0xff80
	xkKPTab     xproto.Keysym = 0xff89
	xkKPEnter   xproto.Keysym = 0xff8d
	xkKPEqual   xproto.Keysym = 0xffbd
	xkDelete    xproto.Keysym = 0xffff

	keysymUnicodeOffset xproto.Keysym = 0x01000000
)

// keymap translates keycodes to keysyms following the core protocol rules for group 1.
type keymap struct {
	minKeycode xproto.Keycode
	perKeycode int
	keysyms    []xproto.Keysym
	numLock    uint16
}

func newKeymap(
	minKeycode xproto.Keycode,
	perKeycode int,
	keysyms []xproto.Keysym,
	modKeycodes []xproto.Keycode,
	perModifier int,
) *keymap {
	k := &keymap{
		minKeycode: minKeycode,
		perKeycode: perKeycode,
		keysyms:    keysyms,
	}

	for mod := 0; mod < 8 && perModifier > 0 && len(modKeycodes) >= 8*perModifier; mod++ {
		for _, code := range modKeycodes[mod*perModifier : (mod+1)*perModifier] {
			if code != 0 && k.produces(code, xkNumLock) {
				k.numLock = 1 << mod
			}
		}
	}

	return k
}

func (k *keymap) row(code xproto.Keycode) []xproto.Keysym {
	if code < k.minKeycode || k.perKeycode == 0 {
		return nil
	}
	start := int(code-k.minKeycode) * k.perKeycode
	if start+k.perKeycode > len(k.keysyms) {
		return nil
	}
	return k.keysyms[start : start+k.perKeycode]
}

func (k *keymap) produces(code xproto.Keycode, sym xproto.Keysym) bool {
	for _, s := range k.row(code) {
		if s == sym {
			return true
		}
	}
	return false
}

// keysym picks the keysym a key press produces given the modifier state.
func (k *keymap) keysym(code xproto.Keycode, state uint16) xproto.Keysym {
	row := k.row(code)
	if len(row) == 0 {
		return xkNoSymbol
	}

	lower := row[0]
	upper := xkNoSymbol
	if len(row) > 1 {
		upper = row[1]
	}
	if upper == xkNoSymbol {
		lower, upper = toLower(lower), toUpper(lower)
	}

	shift := state&xproto.ModMaskShift != 0
	lock := state&xproto.ModMaskLock != 0

	switch {
	case k.numLock != 0 && state&k.numLock != 0 && isKeypad(upper):
		if shift {
			return lower
		}
		return upper
	case !shift && !lock:
		return lower
	case !shift && lock:
		return toUpper(lower)
	case shift && lock:
		return toUpper(upper)
	default:
		return upper
	}
}

// lookup classifies a key press for the prompt.
func (k *keymap) lookup(code xproto.Keycode, state uint16) (unlock.KeyKind, string) {
	sym := k.keysym(code, state)

	switch sym {
	case xkNoSymbol:
		return unlock.KeyIgnored, ""
	case xkEscape, xkClear:
		return unlock.KeyCancel, ""
	case xkBackSpace, xkDelete:
		return unlock.KeyErase, ""
	case xkReturn, xkLinefeed, xkKPEnter:
		return unlock.KeySubmit, ""
	}

	r, ok := keysymRune(sym)
	if !ok {
		return unlock.KeyIgnored, ""
	}
	if state&xproto.ModMaskControl != 0 {
		r = controlRune(r)
	}

	return unlock.KeyText, string(r)
}

func isKeypad(sym xproto.Keysym) bool {
	return sym >= xkKPSpace && sym <= xkKPEqual
}

// keysymRune returns the character a keysym types. Legacy keysyms outside Latin-1 are not
// decoded, modern keymaps use the Unicode range for those.
func keysymRune(sym xproto.Keysym) (rune, bool) {
	switch {
	case sym >= 0x20 && sym <= 0x7e, sym >= 0xa0 && sym <= 0xff:
		return rune(sym), true
	case sym >= keysymUnicodeOffset+0x100 && sym <= keysymUnicodeOffset+0x10ffff:
		return rune(sym - keysymUnicodeOffset), true
	case sym == xkTab, sym == xkKPTab:
		return '\t', true
	case sym == xkKPSpace:
		return ' ', true
	case sym >= 0xffaa && sym <= 0xffb9, sym == xkKPEqual:
		// KP_Multiply through KP_9 and KP_Equal mirror ASCII at an offset.
		return rune(sym - xkKPSpace), true
	default:
		return 0, false
	}
}

func runeKeysym(r rune) xproto.Keysym {
	if r < 0x100 {
		return xproto.Keysym(r)
	}
	return keysymUnicodeOffset + xproto.Keysym(r)
}

func toUpper(sym xproto.Keysym) xproto.Keysym {
	r, ok := keysymRune(sym)
	if !ok || sym > 0xff && sym < keysymUnicodeOffset {
		return sym
	}
	return runeKeysym(unicode.ToUpper(r))
}

func toLower(sym xproto.Keysym) xproto.Keysym {
	r, ok := keysymRune(sym)
	if !ok || sym > 0xff && sym < keysymUnicodeOffset {
		return sym
	}
	return runeKeysym(unicode.ToLower(r))
}

// controlRune applies the Control modifier the way Xlib's XLookupString does.
func controlRune(r rune) rune {
	switch {
	case r >= '@' && r < 0x7f, r == ' ':
		return r & 0x1f
	case r == '2':
		return 0
	case r >= '3' && r <= '7':
		return r - ('3' - 0x1b)
	case r == '8':
		return 0x7f
	case r == '/':
		return '_' & 0x1f
	default:
		return r
	}
}
