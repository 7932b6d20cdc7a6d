package aliexpress

import (
	"prodrec-backend/lib/restyutil"
)

var instrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput dumps the request/response pairs of clients
// created afterwards to the given output.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	instrumentOutput = out
}
