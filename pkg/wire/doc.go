// Package wire implements the comlink delimiter wire format.
//
// Commands are rendered as UTF-8 text frames:
//
//	name<|EOM|>
//	name<|EON|>arg0<|EOA|>arg1<|EOM|>
//
// EndSign (<|EOM|>) terminates every frame, ArgSign (<|EON|>) separates
// the command name from its arguments, and SepSign (<|EOA|>) separates
// adjacent arguments. The tokens are reserved: the codec rejects names
// and arguments containing them rather than escaping.
//
// # Stream Reassembly
//
// TCP preserves byte order, not frame boundaries. Next and Decode
// operate on an accumulation buffer: a frame may span several reads and
// one read may carry several frames. Callers keep the returned
// remainder and append the next read to it.
//
// # Encrypted Frames
//
// When a cipher layer is active, the full encoded frame (terminator
// included) is encrypted and a clear-text EndSign is appended as the
// outer stream terminator. Parse tolerates the inner terminator that
// reappears after decryption, so both paths share one parser. The
// bootstrap public_key frame is always clear text and is classified by
// IsBootstrapFrame before any decryption.
package wire
