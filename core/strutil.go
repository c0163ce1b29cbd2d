package core

// itoa converts an integer to a string without using fmt package
// Status.Error runs on the firmware side where fmt is too heavy
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	digits := 0
	for temp := n; temp > 0; temp /= 10 {
		digits++
	}
	if negative {
		digits++
	}

	buf := make([]byte, digits)
	pos := digits - 1
	for n > 0 {
		buf[pos] = byte('0' + n%10)
		n /= 10
		pos--
	}

	if negative {
		buf[0] = '-'
	}

	return string(buf)
}
