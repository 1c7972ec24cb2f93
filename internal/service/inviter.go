package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moxun/seatpool/internal/model"
)

// MembershipInviter calls the external membership API to invite a buyer
// onto an account.  The allocator treats it as best-effort: a failed invite
// surfaces as a degraded result, never as a rolled-back redemption.
type MembershipInviter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewMembershipInviter builds an inviter against the membership API.
// Returns nil when baseURL is empty; the allocator accepts a nil inviter
// and leaves delivery to operators.
func NewMembershipInviter(baseURL, token string) *MembershipInviter {
	if baseURL == "" {
		return nil
	}
	return &MembershipInviter{
		baseURL: baseURL,
		token:   token,
		// Invites run after the allocator's critical section; the
		// timeout only bounds the buyer-facing response time.
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Invite asks the membership API to add email to the account.
func (m *MembershipInviter) Invite(ctx context.Context, account *model.Account, email string) error {
	payload, err := json.Marshal(map[string]string{
		"account": account.Name,
		"email":   email,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/v1/members/invite", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("membership api returned HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}
