// Package preview 维护工作区预览端口白名单
//
// 容器内常见开发服务器端口固定映射到宿主机高位端口，白名单之外的
// 端口一律不对外发布。映射关系前端据此拼接预览 URL。
package preview

import "sort"

// portMapping 容器端口 → 宿主机端口
var portMapping = map[int]int{
	3000: 30001, // React/Next.js dev server
	5000: 30002, // Flask
	5173: 30003, // Vite
	4200: 30004, // Angular
	8080: 30005, // 通用 HTTP
	8888: 30006, // Jupyter
	4000: 30007, // Phoenix/Jekyll
	9000: 30008, // PHP/SonarQube 风格
	3001: 30009, // React 备用
	5500: 30010, // Live Server
}

// HostPort 返回容器端口对应的宿主机端口，白名单外返回 0
func HostPort(containerPort int) int {
	return portMapping[containerPort]
}

// Allowed 判断容器端口是否在白名单内
func Allowed(containerPort int) bool {
	_, ok := portMapping[containerPort]
	return ok
}

// Bindings 返回完整映射表的副本（host → container），
// 工作区创建时全量发布
func Bindings() map[int]int {
	out := make(map[int]int, len(portMapping))
	for containerPort, hostPort := range portMapping {
		out[hostPort] = containerPort
	}
	return out
}

// ContainerPorts 返回白名单内全部容器端口，升序
func ContainerPorts() []int {
	out := make([]int, 0, len(portMapping))
	for p := range portMapping {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
