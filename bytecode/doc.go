// Package bytecode provides the instruction codec for the target
// interpreter family and an immutable method body representation.
//
// Two encodings are supported, selected by an op.Format value:
//
//   - FormatModern: every instruction is a 2 byte unit holding an opcode
//     and an 8 bit argument. Larger arguments are carried by one or more
//     ExtendArg prefix units, each contributing 8 more bits, giving
//     encoded sizes of 2, 4, 6 or 8 bytes.
//   - FormatLegacy: instructions are 1 byte (no argument) or 3 bytes
//     (16 bit argument), with a fixed 6 byte extension record for 32 bit
//     arguments.
//
// Decoding is total: truncated or malformed input yields
// InvalidInstruction rather than a panic, and callers treat that as a hard
// failure of the enclosing operation.
//
// Encoding always chooses the minimal width for an argument value, except
// that a caller may request a larger specific size (Instruction.WithSize)
// to overwrite an existing instruction slot in place; the encoder then
// left-pads with ExtendArg units carrying value zero.
package bytecode
