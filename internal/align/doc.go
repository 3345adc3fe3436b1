// Package align reconciles an approximate, timestamped transcription with the
// authoritative input text and assigns a time interval and confidence to every
// word of that text.
//
// The pipeline has three stages:
//
//  1. [Tokenize] splits the input into [ReferenceToken] values, keeping the
//     exact original characters and their character offsets.
//
//  2. [Matcher.Match] walks the reference tokens in order and greedily pairs
//     each one with an [ObservedToken] from a bounded lookahead window,
//     comparing normalized forms (see package textnorm).
//
//  3. [Assigner.Assign] turns the matches into one [AlignedWord] per reference
//     token. Matched words take the observed interval; unmatched words get an
//     interval by proportional distribution of character length. When too few
//     words matched, every word falls back to proportional distribution.
//
// Every output of [Assigner.Assign] satisfies: one word per reference token,
// non-decreasing start times, every interval inside [0, duration], and
// start < end.
package align
