package glbuild

import (
	"bytes"
	"strconv"
)

// AppendFuncHeader appends the opening of a node output function: "<type> fnName(vec2 uv) {\n".
func AppendFuncHeader(b []byte, typ PortType, fnName string) []byte {
	b = append(b, typ.GLSL()...)
	b = append(b, ' ')
	b = append(b, fnName...)
	b = append(b, "(vec2 uv) {\n"...)
	return b
}

// AppendReturn appends "\treturn <expr>;\n}\n", closing a function opened with [AppendFuncHeader].
func AppendReturn(b []byte, expr string) []byte {
	b = append(b, "\treturn "...)
	b = append(b, expr...)
	b = append(b, ";\n}\n"...)
	return b
}

// AppendVec4Literal appends a vec4 constructor, i.e: "vec4(1.,0.5,0.,1.)".
func AppendVec4Literal(b []byte, v [4]float32) []byte {
	b = append(b, "vec4("...)
	b = AppendFloats(b, ',', '-', '.', v[:]...)
	b = append(b, ')')
	return b
}

const decimalDigits = 9

// AppendFloat appends v with a fixed number of decimals and trailing zeros trimmed.
// The result always contains the decimal character so it is a float literal in GLSL.
func AppendFloat(b []byte, neg, decimal byte, v float32) []byte {
	start := len(b)
	b = strconv.AppendFloat(b, float64(v), 'f', decimalDigits, 32)
	idx := bytes.IndexByte(b[start:], '.')
	if decimal != '.' && idx >= 0 {
		b[start+idx] = decimal
	}
	if b[start] == '-' {
		b[start] = neg
	}
	// Finally trim zeroes.
	end := len(b)
	for i := len(b) - 1; idx >= 0 && i > idx+start && b[i] == '0'; i-- {
		end--
	}
	return b[:end]
}

func AppendFloats(b []byte, sep, neg, decimal byte, s ...float32) []byte {
	for i, v := range s {
		b = AppendFloat(b, neg, decimal, v)
		if sep != 0 && i != len(s)-1 {
			b = append(b, sep)
		}
	}
	return b
}

// FloatLiteral returns v formatted as a GLSL float literal.
func FloatLiteral(v float32) string {
	var buf [32]byte
	return string(AppendFloat(buf[:0], '-', '.', v))
}
