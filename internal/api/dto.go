package api

import (
	"chatclient/pkg/types"
)

type jwtResponse struct {
	AccessToken string     `json:"accessToken"`
	TokenType   string     `json:"tokenType"`
	ExpiresIn   int64      `json:"expiresIn"`
	User        types.User `json:"user"`
}

func (r jwtResponse) result() (*types.AuthResult, error) {
	if r.AccessToken == "" {
		return nil, ErrMalformedResponse
	}
	return &types.AuthResult{
		Token:     r.AccessToken,
		TokenType: r.TokenType,
		ExpiresIn: r.ExpiresIn,
		User:      r.User.Identity(),
	}, nil
}

type messageResponse struct {
	ID             int64           `json:"id"`
	Content        string          `json:"content"`
	MessageType    string          `json:"messageType"`
	Status         string          `json:"status"`
	SenderID       int64           `json:"senderId"`
	SenderUsername string          `json:"senderUsername"`
	ReceiverID     int64           `json:"receiverId"`
	GroupID        int64           `json:"groupId"`
	GroupName      string          `json:"groupName"`
	CreatedAt      types.Timestamp `json:"createdAt"`
}

func (m messageResponse) message(scope types.Scope) types.Message {
	return types.Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		ReceiverID:     m.ReceiverID,
		GroupID:        m.GroupID,
		GroupName:      m.GroupName,
		Content:        m.Content,
		Timestamp:      m.CreatedAt.Time,
		Scope:          scope,
	}
}

func toMessages(rows []messageResponse, scope types.Scope) []types.Message {
	out := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.message(scope))
	}
	return out
}
