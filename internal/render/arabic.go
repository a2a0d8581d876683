package render

// arabicRanges covers the Arabic script blocks: Arabic, Arabic Supplement,
// Arabic Extended-A, and both presentation-forms blocks.
var arabicRanges = [...][2]rune{
	{0x0600, 0x06FF},
	{0x0750, 0x077F},
	{0x08A0, 0x08FF},
	{0xFB50, 0xFDFF},
	{0xFE70, 0xFEFF},
}

// ContainsArabic reports whether any rune of s falls in an Arabic block.
func ContainsArabic(s string) bool {
	for _, r := range s {
		for _, rg := range arabicRanges {
			if r >= rg[0] && r <= rg[1] {
				return true
			}
		}
	}
	return false
}
