package scratch

import "github.com/nikandfor/hacked/hfmt"

// AppendText appends the variable table followed by usage totals.
func (s *Space) AppendText(b []byte) []byte {
	b = hfmt.Appendf(b, "%8s  %-20s %6s %6s\n", "addr", "name", "len", "slots")

	for _, v := range s.order {
		b = hfmt.Appendf(b, "%8d  %-20s %6d %6d", v.Addr, v.Name, v.Len, v.Slots)

		if v.Const {
			b = hfmt.Appendf(b, "  = %d", v.Value)
		}

		b = append(b, '\n')
	}

	b = hfmt.Appendf(b, "resident threads  %d\n", s.Resident())
	b = hfmt.Appendf(b, "per thread space  %d\n", s.PerThread())
	b = hfmt.Appendf(b, "globals space     %d\n", s.Globals())
	b = hfmt.Appendf(b, "used space        %d\n", s.Size())
	b = hfmt.Appendf(b, "free space        %d\n", s.Free())

	return b
}
