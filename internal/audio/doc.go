// Package audio decodes synthesized speech and plays it through the default
// output device using oto/v3. Decoding handles MP3 and WAV via beep and
// resamples to the output rate.
package audio
