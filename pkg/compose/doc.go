/*
Package compose implements CT, the multi-service application manager backing
`libra compose up|down|ps`.

Up computes a dependency order from each service's depends_on via Kahn's
algorithm, creates the project's default "<project>-net" bridge network plus
any explicitly declared ones, then creates and starts each service as a
CTM-managed container named "<project>-<service>" in order, rolling back
already-started services if a later one fails. Down reads back the persisted
service order and tears services down in reverse, then removes the project's
networks; it tolerates services that are already gone. Ps reports each
service's last known phase from pkg/container's phase snapshot.
*/
package compose
