package transcode

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// VerifyCanonical checks that path holds a non-empty 16-bit PCM WAV with the
// expected sample rate and channel count.
func VerifyCanonical(path string, sampleRate, channels int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open waveform: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("waveform %s is not a valid wav file", path)
	}
	if int(dec.SampleRate) != sampleRate {
		return fmt.Errorf("waveform sample rate %d, want %d", dec.SampleRate, sampleRate)
	}
	if int(dec.NumChans) != channels {
		return fmt.Errorf("waveform channels %d, want %d", dec.NumChans, channels)
	}
	if dec.BitDepth != 16 {
		return fmt.Errorf("waveform bit depth %d, want 16", dec.BitDepth)
	}
	return nil
}
