// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ipcring

import "unsafe"

// unsafePointer returns a pointer into mem at offset, used solely to take
// the address of header/slot fields for atomic access. Callers are
// responsible for offset + the pointee's size staying within len(mem).
func unsafePointer(mem []byte, offset int) unsafe.Pointer {
	return unsafe.Pointer(&mem[offset])
}
