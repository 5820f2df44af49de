// license-activate 在部署机上激活面板许可证
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
)

const (
	defaultHost = "http://127.0.0.1:3000"
	ipifyURL    = "https://api.ipify.org?format=json"
	timeout     = 15 * time.Second
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Gunakan: license-activate <kunci_11_digit> [host] [ip]")
		os.Exit(1)
	}
	key := strings.TrimSpace(os.Args[1])
	host := arg(2, "LICENSE_HOST", defaultHost)
	ip := arg(3, "LICENSE_IP", "")
	if ip == "" {
		ip = publicIP()
	}

	code, body, err := activate(host, key, ip)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Gagal menghubungi server:", err)
		os.Exit(1)
	}
	pretty := gjson.GetBytes(body, "@pretty").Raw
	if pretty == "" {
		pretty = string(body)
	}
	if code != fiber.StatusOK {
		fmt.Fprintf(os.Stderr, "Aktivasi gagal dengan kode %d.\n", code)
		fmt.Fprintln(os.Stderr, pretty)
		os.Exit(1)
	}
	fmt.Println("Lisensi berhasil diaktifkan.")
	fmt.Println(pretty)
}

// arg 命令行参数优先，其次环境变量
func arg(i int, env, fallback string) string {
	if len(os.Args) > i && os.Args[i] != "" {
		return os.Args[i]
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// publicIP 获取失败时返回空串，由服务端按来源地址判断
func publicIP() string {
	a := fiber.Get(ipifyURL).Timeout(timeout)
	code, body, errs := a.Bytes()
	if len(errs) > 0 || code != fiber.StatusOK {
		return ""
	}
	return gjson.GetBytes(body, "ip").String()
}

func activate(host, key, ip string) (int, []byte, error) {
	a := fiber.Post(strings.TrimRight(host, "/") + "/api/license/activate").Timeout(timeout)
	payload := fiber.Map{"key": key}
	if ip != "" {
		payload["ip"] = ip
	}
	a.JSON(payload)
	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return 0, nil, errs[0]
	}
	return code, body, nil
}
