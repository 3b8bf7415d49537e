// Package types defines the data model shared by every libra component:
// workload specs as read from disk or the wire, and the runtime records
// that track what is actually running on the node.
package types

import "time"

// Kind tags a workload document so the CLI/reconciler can dispatch on it
// without guessing from shape.
type Kind string

const (
	KindContainer Kind = "Container"
	KindPod       Kind = "Pod"
	KindCompose   Kind = "Compose"
)

// MountMode is the access mode of a bind mount.
type MountMode string

const (
	MountReadOnly  MountMode = "ro"
	MountReadWrite MountMode = "rw"
)

// Protocol is a transport protocol for a published port.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// NetworkMode selects how a standalone container or compose service joins
// the network. Pods always get a fresh bridge-attached namespace via their
// pause container; NetworkMode only applies to CTM-managed containers.
type NetworkMode string

const (
	NetworkModeBridge NetworkMode = "bridge"
	NetworkModeHost   NetworkMode = "host"
)

// RestartCondition controls whether PTM's monitor restarts a pod worker in
// place after its container exits; CTM does not act on it.
type RestartCondition string

const (
	RestartNever     RestartCondition = "never"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// RestartPolicy is carried on ContainerSpec; zero value means RestartNever.
type RestartPolicy struct {
	Condition   RestartCondition `yaml:"condition,omitempty" json:"condition,omitempty"`
	MaxAttempts int              `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	Delay       time.Duration    `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// HealthCheckType selects the health probe mechanism.
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
	HealthCheckExec HealthCheckType = "exec"
)

// HealthCheck is an optional liveness probe on a ContainerSpec.
type HealthCheck struct {
	Type     HealthCheckType `yaml:"type" json:"type"`
	Endpoint string          `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Command  []string        `yaml:"command,omitempty" json:"command,omitempty"`
	Interval time.Duration   `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout  time.Duration   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries  int             `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// PortMapping describes a container port, optionally published to the host.
type PortMapping struct {
	ContainerPort int      `yaml:"containerPort" json:"containerPort"`
	HostPort      int      `yaml:"hostPort,omitempty" json:"hostPort,omitempty"`
	HostIP        string   `yaml:"hostIP,omitempty" json:"hostIP,omitempty"`
	Protocol      Protocol `yaml:"protocol,omitempty" json:"protocol,omitempty"`
}

// ResourceLimits maps onto cgroup v2 controllers: cpu millicores and memory
// bytes; pids is optional.
type ResourceLimits struct {
	CPUMillis   int64  `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	MemoryBytes int64  `yaml:"memory,omitempty" json:"memory,omitempty"`
	PidsMax     *int64 `yaml:"pids,omitempty" json:"pids,omitempty"`
}

// Resources is the ContainerSpec.resources wrapper (only "limits" exists in
// this runtime — no reservations, unlike the teacher's scheduler-facing
// model, since there is no multi-node bin-packing here).
type Resources struct {
	Limits *ResourceLimits `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// MountSpec is a bind mount from the host into the container rootfs.
type MountSpec struct {
	Source string    `yaml:"source" json:"source"`
	Target string    `yaml:"target" json:"target"`
	Mode   MountMode `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// ContainerSpec is the immutable input describing one container, whether
// standalone, a pod worker/pause, or a compose service.
type ContainerSpec struct {
	Name          string            `yaml:"name" json:"name"`
	Image         string            `yaml:"image" json:"image"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Ports         []PortMapping     `yaml:"ports,omitempty" json:"ports,omitempty"`
	Resources     *Resources        `yaml:"resources,omitempty" json:"resources,omitempty"`
	Mounts        []MountSpec       `yaml:"mounts,omitempty" json:"mounts,omitempty"`
	NetworkMode   NetworkMode       `yaml:"networkMode,omitempty" json:"networkMode,omitempty"`
	RestartPolicy *RestartPolicy    `yaml:"restartPolicy,omitempty" json:"restartPolicy,omitempty"`
	HealthCheck   *HealthCheck      `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`
	StopTimeout   int               `yaml:"stopTimeout,omitempty" json:"stopTimeout,omitempty"`
}

// PodSpec groups an ordered sequence of worker ContainerSpecs behind a
// shared pause container.
type PodSpec struct {
	Name       string            `yaml:"name" json:"name"`
	Labels     map[string]string `yaml:"labels" json:"labels"`
	Containers []ContainerSpec   `yaml:"containers" json:"containers"`
	Network    string            `yaml:"network,omitempty" json:"network,omitempty"`
}

// ConfigRef is a compose "configs" entry materialized as a read-only mount.
type ConfigRef struct {
	File string `yaml:"file" json:"file"`
}

// ServiceSpec is a compose service: a ContainerSpec plus ordering and
// network membership.
type ServiceSpec struct {
	ContainerSpec `yaml:",inline"`
	DependsOn     []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Networks      []string `yaml:"networks,omitempty" json:"networks,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	Configs       []string `yaml:"configs,omitempty" json:"configs,omitempty"`
}

// NetworkDriver is the CNI driver backing a compose/pod network.
type NetworkDriver string

const (
	NetworkDriverBridge NetworkDriver = "bridge"
)

// NetworkSpec describes a named network a compose project declares.
type NetworkSpec struct {
	Driver  NetworkDriver     `yaml:"driver,omitempty" json:"driver,omitempty"`
	Subnet  string            `yaml:"subnet,omitempty" json:"subnet,omitempty"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// ComposeSpec is a compose-style multi-service application.
type ComposeSpec struct {
	ProjectName string                 `yaml:"project_name,omitempty" json:"project_name,omitempty"`
	Services    map[string]ServiceSpec `yaml:"services" json:"services"`
	Networks    map[string]NetworkSpec `yaml:"networks,omitempty" json:"networks,omitempty"`
	Configs     map[string]ConfigRef   `yaml:"configs,omitempty" json:"configs,omitempty"`
}

// ContainerState is the observed state of one OCI-runtime-managed
// container, as reported by ORA.
type ContainerState string

const (
	ContainerStateCreated  ContainerState = "created"
	ContainerStateRunning  ContainerState = "running"
	ContainerStateStopped  ContainerState = "stopped"
	ContainerStateComplete ContainerState = "complete"
	ContainerStateFailed   ContainerState = "failed"
)

// Phase is the derived pod/container lifecycle phase.
type Phase string

const (
	PhasePending  Phase = "Pending"
	PhaseCreating Phase = "Creating"
	PhaseCreated  Phase = "Created"
	PhaseStarting Phase = "Starting"
	PhaseRunning  Phase = "Running"
	PhaseStopping Phase = "Stopping"
	PhaseDeleted  Phase = "Deleted"
	PhaseFailed   Phase = "Failed"
)

// ContainerRecord is the per-container runtime record PTM/CTM maintain.
type ContainerRecord struct {
	Name         string         `json:"name"`
	ContainerID  string         `json:"container_id"` // ORA-facing id
	BundlePath   string         `json:"bundle_path"`
	State        ContainerState `json:"state"`
	Pid          int            `json:"pid,omitempty"`
	ExitCode     int            `json:"exit_code,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	FinishedAt   time.Time      `json:"finished_at,omitempty"`
	RestartCount int            `json:"restart_count,omitempty"`
}

// PodRecord is the per-pod state record, kept in memory and mirrored to the
// on-disk rendezvous (pkg/store) for crash recovery.
type PodRecord struct {
	PodID      string                      `json:"pod_id"`
	Phase      Phase                       `json:"phase"`
	PauseID    string                      `json:"pause_id"`
	WorkerIDs  []string                    `json:"worker_ids"`
	NetnsPath  string                      `json:"netns_path,omitempty"`
	IPAddress  string                      `json:"ip_address,omitempty"`
	Containers map[string]*ContainerRecord `json:"containers"`
	SpecHash   string                      `json:"spec_hash"`
	CreatedAt  time.Time                   `json:"created_at"`
	LastError  string                      `json:"last_error,omitempty"`
}

// ContainerRuntimeRecord is the standalone-container analogue of PodRecord,
// used by CTM.
type ContainerRuntimeRecord struct {
	Name      string           `json:"name"`
	Phase     Phase            `json:"phase"`
	NetnsPath string           `json:"netns_path,omitempty"`
	IPAddress string           `json:"ip_address,omitempty"`
	Record    *ContainerRecord `json:"record"`
	SpecHash  string           `json:"spec_hash"`
	CreatedAt time.Time        `json:"created_at"`
	LastError string           `json:"last_error,omitempty"`
}

// ProjectRecord is the on-disk rendezvous for one compose project.
type ProjectRecord struct {
	ProjectName  string    `json:"project_name"`
	ServiceOrder []string  `json:"service_order"`
	Networks     []string  `json:"networks"`
	CreatedNets  []string  `json:"created_networks"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExecRequest is the input to PTM/CTM.exec.
type ExecRequest struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	TTY     bool              `json:"tty,omitempty"`
}

// ExecResult is the output of PTM/CTM.exec.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// IPAMResult is what NS.attach records from a CNI ADD result.
type IPAMResult struct {
	IPAddress  string   `json:"ip_address"`
	Gateway    string   `json:"gateway,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
}

// Assignment is one unit of desired state delivered to the reconciler,
// either read from the manifest directory (MWR) or streamed from the
// control plane (NA). Revision lets NA detect a stale cached assignment on
// restart without comparing full spec contents.
type Assignment struct {
	Kind     Kind     `json:"kind"`
	Pod      *PodSpec `json:"pod,omitempty"`
	Revision int64    `json:"revision"`
}
