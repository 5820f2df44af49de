package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"reseller-panel/internal/logger"
	"reseller-panel/internal/model"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSyncService 把密钥注册表镜像到 Google Sheet，数据库始终是唯一来源
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           *logger.Logger
}

func NewSheetSyncService(enableSync bool, credentialPath, spreadsheetID, sheetName string, log *logger.Logger) (*SheetSyncService, error) {
	if !enableSync {
		return nil, nil
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx := context.Background()

	// 读取凭证文件
	b, err := os.ReadFile(credentialPath)
	if err != nil {
		return nil, err
	}

	// 使用服务账号授权
	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("无法加载凭证: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, err
	}

	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           log,
	}, nil
}

// SyncKey 供注册表在变更后异步调用，失败只记录日志
func (s *SheetSyncService) SyncKey(key *model.LicenseKey) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.syncKey(ctx, key); err != nil {
		s.log.Warn(ctx, "同步密钥到Google Sheet失败: "+key.Key, err)
	}
}

func (s *SheetSyncService) syncKey(ctx context.Context, key *model.LicenseKey) error {
	// 先检查Sheet中是否已存在该Key
	rangeToSearch := fmt.Sprintf("%s!A2:A", s.sheetName)
	keyResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, rangeToSearch).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("查询Sheet数据失败: %v", err)
	}

	rowIndex := findRow(keyResp.Values, key.Key)
	values := [][]interface{}{keyRow(key)}

	// 根据是否找到决定更新还是追加
	if rowIndex > 0 {
		rangeData := fmt.Sprintf("%s!A%d:H%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(
			s.spreadsheetID,
			rangeData,
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(
			s.spreadsheetID,
			s.sheetName+"!A2:H",
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("同步到Google Sheet失败: %v", err)
	}

	s.log.Info(ctx, "成功同步密钥到Google Sheet: "+key.Key)
	return nil
}

// BatchSyncKeys 清空数据区后整体重写
func (s *SheetSyncService) BatchSyncKeys(ctx context.Context, keys []model.LicenseKey) error {
	if s == nil {
		return nil
	}

	var values [][]interface{}
	for i := range keys {
		values = append(values, keyRow(&keys[i]))
	}

	rangeData := s.sheetName + "!A2:H"
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("清空工作表失败: %v", err)
	}
	if len(values) == 0 {
		return nil
	}

	_, err := s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		rangeData,
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("批量同步失败: %v", err)
	}
	return nil
}

// findRow 返回表格行号（A2 开始），不存在返回 0
func findRow(rows [][]interface{}, key string) int {
	for i, row := range rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == key {
			return i + 2
		}
	}
	return 0
}

func keyRow(key *model.LicenseKey) []interface{} {
	return []interface{}{
		key.Key,
		key.Label,
		key.Status,
		strings.Join(key.AllowedIPs, ","),
		key.IPQuota(),
		key.ExpiresAt,
		key.CreatedAt.Format(time.RFC3339),
		key.UpdatedAt.Format(time.RFC3339),
	}
}
