package sample

// DownsampleSamples reduces samples to at most maxPoints for plotting. Each
// output point is the hottest sample of its bucket so a reflow peak is never
// decimated away. dst is reused when it has enough capacity.
func DownsampleSamples(dst []Sample, samples []Sample, maxPoints int) []Sample {
	n := len(samples)
	if n <= maxPoints {
		if cap(dst) < n {
			dst = make([]Sample, n)
		}
		dst = dst[:n]
		copy(dst, samples)
		return dst
	}
	if maxPoints <= 0 {
		return dst[:0]
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Sample, 0, maxPoints)
	}

	for i := range maxPoints {
		lo := i * n / maxPoints
		hi := (i + 1) * n / maxPoints
		best := samples[lo]
		for _, s := range samples[lo+1 : hi] {
			if s.Temperature > best.Temperature {
				best = s
			}
		}
		dst = append(dst, best)
	}

	return dst
}
