package model

import (
	"time"

	"gorm.io/datatypes"
)

var AccountTypes = []string{"ssh", "vmess", "vless", "trojan"}

type ServerDefaults struct {
	LimitIP int   `json:"limitip"`
	Quota   int64 `json:"quota"`
}

// Server 上游开通节点，auth 不对普通用户返回
type Server struct {
	ID        string                               `json:"id" gorm:"primaryKey;size:36"`
	Name      string                               `json:"name"`
	Domain    string                               `json:"domain" gorm:"not null"`
	Auth      string                               `json:"auth,omitempty"`
	Prices    datatypes.JSONType[map[string]int64] `json:"prices"`
	Types     datatypes.JSONType[map[string]bool]  `json:"types"`
	Defaults  datatypes.JSONType[ServerDefaults]   `json:"defaults"`
	CreatedAt time.Time                            `json:"created_at"`
}

func (s *Server) TypeEnabled(kind string) bool {
	enabled, ok := s.Types.Data()[kind]
	return ok && enabled
}

func (s *Server) BasePrice(kind string) int64 {
	return s.Prices.Data()[kind]
}
