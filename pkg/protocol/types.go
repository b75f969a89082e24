package protocol

// Wire types shared by the challenge client, the solver service and the CLI.

import (
	"fmt"
)

// PowResponseHeader carries the encoded answer on the protected request.
const PowResponseHeader = "x-ds-pow-response"

// Challenge is a proof-of-work challenge as issued by the remote service.
//
// Difficulty and ExpireAt keep their JSON token, quoted or bare, so the
// answer echoes them back unchanged and the solve prefix uses the service's
// own rendering of the expiry.
type Challenge struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Difficulty Scalar `json:"difficulty"`
	ExpireAt   Scalar `json:"expire_at"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

// Validate checks the fields the solver depends on.
func (c *Challenge) Validate() error {
	if c.Algorithm == "" {
		return fmt.Errorf("challenge algorithm is required")
	}
	if c.Salt == "" {
		return fmt.Errorf("challenge salt is required")
	}
	if c.ExpireAt.IsZero() {
		return fmt.Errorf("challenge expire_at is required")
	}
	if c.Difficulty.IsZero() {
		return fmt.Errorf("challenge difficulty is required")
	}
	if _, err := c.Difficulty.Float64(); err != nil {
		return fmt.Errorf("challenge difficulty %q is not numeric: %w", c.Difficulty, err)
	}
	return nil
}

// Answer is the document encoded into the pow response header. Field order
// matches what the service expects to decode.
type Answer struct {
	Algorithm  string `json:"algorithm"`
	Answer     int64  `json:"answer"`
	Challenge  string `json:"challenge"`
	Difficulty Scalar `json:"difficulty"`
	ExpireAt   Scalar `json:"expire_at"`
	Salt       string `json:"salt"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

// NewAnswer echoes the challenge fields around a solved nonce.
func NewAnswer(c *Challenge, nonce int64) Answer {
	return Answer{
		Algorithm:  c.Algorithm,
		Answer:     nonce,
		Challenge:  c.Challenge,
		Difficulty: c.Difficulty,
		ExpireAt:   c.ExpireAt,
		Salt:       c.Salt,
		Signature:  c.Signature,
		TargetPath: c.TargetPath,
	}
}

// ChallengeRequest is the body of a create-challenge call.
type ChallengeRequest struct {
	TargetPath string `json:"target_path"`
}

// Envelope is the outer response shape of the remote API.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		BizCode int    `json:"biz_code"`
		BizMsg  string `json:"biz_msg"`
		BizData T      `json:"biz_data"`
	} `json:"data"`
}

// ChallengeData is the biz_data payload of a create-challenge response.
type ChallengeData struct {
	Challenge Challenge `json:"challenge"`
}
