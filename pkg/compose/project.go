// Package compose implements CT: a multi-service application built from a
// ComposeSpec. Services are started in dependency order (a Kahn toposort of
// depends_on) and torn down in reverse, each one delegated to pkg/container
// as a standalone CTM container named "<project>-<service>".
package compose

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/container"
	"github.com/cuemby/libra/pkg/events"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/mount"
	"github.com/cuemby/libra/pkg/network"
	"github.com/cuemby/libra/pkg/store"
	"github.com/cuemby/libra/pkg/types"
)

// Config wires CT's collaborators.
type Config struct {
	Containers *container.Manager
	Network    *network.Service
	Mounts     *mount.Manager
	Store      *store.Store
	Events     *events.Broker
}

// Manager is CT.
type Manager struct {
	cfg Config
	log zerolog.Logger
}

// New returns a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, log: log.WithComponent("compose")}
}

// containerName is the CTM-facing name for a compose service.
func containerName(project, service string) string {
	return project + "-" + service
}

// Up brings a project's default network and every service up in
// dependency order, rolling back already-started services if one fails.
func (m *Manager) Up(ctx context.Context, project string, spec *types.ComposeSpec) (*types.ProjectRecord, error) {
	order, err := toposort(spec.Services)
	if err != nil {
		return nil, err
	}

	record := &types.ProjectRecord{
		ProjectName:  project,
		ServiceOrder: order,
	}

	defaultNet := project + "-net"
	if err := m.cfg.Network.CreateNetwork(defaultNet, types.NetworkSpec{Driver: types.NetworkDriverBridge}); err != nil {
		return nil, err
	}
	record.CreatedNets = append(record.CreatedNets, defaultNet)
	for name, netSpec := range spec.Networks {
		if err := m.cfg.Network.CreateNetwork(project+"-"+name, netSpec); err != nil {
			return nil, err
		}
		record.CreatedNets = append(record.CreatedNets, project+"-"+name)
		record.Networks = append(record.Networks, project+"-"+name)
	}

	started := make([]string, 0, len(order))
	for _, svcName := range order {
		svc := spec.Services[svcName]
		cname := containerName(project, svcName)

		cs, err := m.toContainerSpec(cname, svc)
		if err != nil {
			m.rollback(ctx, started)
			return nil, err
		}

		if _, err := m.cfg.Containers.Create(ctx, cs, ""); err != nil {
			m.rollback(ctx, started)
			return nil, apierrors.Wrap(apierrors.ErrSpecInvalid, fmt.Sprintf("create service %s", svcName), err)
		}
		if _, err := m.cfg.Containers.Start(ctx, cname); err != nil {
			_ = m.cfg.Containers.Delete(ctx, cname, true)
			m.rollback(ctx, started)
			return nil, apierrors.Wrap(apierrors.ErrRuntimeStart, fmt.Sprintf("start service %s", svcName), err)
		}
		started = append(started, cname)
	}

	if err := m.cfg.Store.WriteProject(project, record); err != nil {
		m.log.Warn().Err(err).Str("project", project).Msg("failed to persist project record")
	}
	m.publish(events.EventProjectUp, project)
	return record, nil
}

// Down stops every service in reverse start order, then removes the
// project's created networks. Missing services are skipped.
func (m *Manager) Down(ctx context.Context, project string) error {
	var record types.ProjectRecord
	if err := m.cfg.Store.ReadProject(project, &record); err != nil {
		return err
	}

	for i := len(record.ServiceOrder) - 1; i >= 0; i-- {
		cname := containerName(project, record.ServiceOrder[i])
		if err := m.cfg.Containers.Delete(ctx, cname, true); err != nil {
			m.log.Warn().Err(err).Str("container_id", cname).Msg("failed to delete service during teardown")
		}
	}

	for _, net := range record.CreatedNets {
		if err := m.cfg.Network.DeleteNetwork(net); err != nil {
			m.log.Warn().Err(err).Str("network", net).Msg("failed to delete project network")
		}
	}

	if err := m.cfg.Store.RemoveProject(project); err != nil {
		m.log.Warn().Err(err).Str("project", project).Msg("failed to remove project record")
	}
	m.publish(events.EventProjectDown, project)
	return nil
}

// Ps returns the phase of every service in a project as a map keyed by
// service name; the map carries no ordering.
func (m *Manager) Ps(ctx context.Context, project string) (map[string]types.Phase, error) {
	var record types.ProjectRecord
	if err := m.cfg.Store.ReadProject(project, &record); err != nil {
		return nil, err
	}

	phases := m.cfg.Containers.Phases()
	out := make(map[string]types.Phase, len(record.ServiceOrder))
	for _, svc := range record.ServiceOrder {
		out[svc] = phases[containerName(project, svc)]
	}
	return out, nil
}

func (m *Manager) rollback(ctx context.Context, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		_ = m.cfg.Containers.Delete(ctx, started[i], true)
	}
}

func (m *Manager) toContainerSpec(name string, svc types.ServiceSpec) (*types.ContainerSpec, error) {
	cs := svc.ContainerSpec
	cs.Name = name

	mounts, err := m.cfg.Mounts.ResolveMounts(svc.Volumes, cs.Mounts)
	if err != nil {
		return nil, err
	}
	cs.Mounts = mounts
	return &cs, nil
}

func (m *Manager) publish(t events.EventType, project string) {
	if m.cfg.Events == nil {
		return
	}
	m.cfg.Events.Publish(&events.Event{Type: t, Metadata: map[string]string{"project": project}})
}

// toposort returns service names in an order where every service follows
// everything it depends_on, via Kahn's algorithm. Iteration over the service
// map is made deterministic by sorting names first, so equal-priority
// services always come out in a stable order.
func toposort(services map[string]types.ServiceSpec) ([]string, error) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string)
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		for _, dep := range services[name].DependsOn {
			if _, ok := services[dep]; !ok {
				return nil, apierrors.Wrap(apierrors.ErrSpecInvalid, fmt.Sprintf("service %q depends_on unknown service %q", name, dep), nil)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		next := append([]string{}, dependents[n]...)
		sort.Strings(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
		sort.Strings(queue)
	}

	if len(order) != len(names) {
		return nil, apierrors.ErrCycleDetected
	}
	return order, nil
}
